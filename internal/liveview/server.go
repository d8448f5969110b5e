// Package liveview mirrors the operator view over HTTP.
package liveview

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/timzifer/parkgate/session"
)

// DefaultListen is used when no listen address is configured.
const DefaultListen = ":18080"

// Source provides the view to mirror.
type Source interface {
	Current() session.View
	Refresh()
}

// Server serves the live view.
type Server struct {
	logger zerolog.Logger
	source Source
	server *http.Server
	ln     net.Listener
}

// NewHandler builds the live view routes. gatherer may be nil, in which case
// /metrics is not served.
func NewHandler(source Source, gatherer prometheus.Gatherer, logger zerolog.Logger) http.Handler {
	s := &Server{logger: logger, source: source}
	return s.routes(gatherer)
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/refresh", s.handleRefresh)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start listens on listen and serves the live view in the background.
func Start(listen string, source Source, gatherer prometheus.Gatherer, logger zerolog.Logger) (*Server, error) {
	if listen == "" {
		listen = DefaultListen
	}
	logger = logger.With().Str("component", "live_view").Logger()
	s := &Server{logger: logger, source: source}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	s.ln = ln
	s.server = &http.Server{Handler: s.routes(gatherer), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("live view server stopped")
		}
	}()

	logger.Info().Str("listen", ln.Addr().String()).Msg("live view started")
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close shuts the server down.
func (s *Server) Close() {
	if s == nil || s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("shutdown live view")
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, s.source.Current()); err != nil {
		s.logger.Error().Err(err).Msg("render live view page")
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.Current()); err != nil {
		s.logger.Error().Err(err).Msg("encode live view state")
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.source.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

var pageTemplate = template.Must(template.New("liveview").Parse(`<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<title>Estacionamiento</title>
<style>
body { font-family: Arial, sans-serif; margin: 2rem; background: #f7f7f7; color: #222; }
table { border-collapse: collapse; background: #fff; min-width: 24rem; }
th, td { text-align: left; padding: 0.4rem 0.8rem; border-bottom: 1px solid #ddd; }
.badge { display: inline-block; padding: 0.2rem 0.6rem; border-radius: 4px; color: #fff; background: #757575; }
.badge.connected { background: #2e7d32; }
.badge.disconnected { background: #c62828; }
button { padding: 0.5rem 1rem; border: none; border-radius: 4px; background: #1976d2; color: #fff; cursor: pointer; }
</style>
</head>
<body>
<h1>Estacionamiento <span id="badge" class="badge {{.Display.Connectivity}}">{{.Display.Connectivity.Label}}</span></h1>
<p><button id="refresh">Actualizar</button> <span id="updated"></span></p>
<table>
<tbody id="status">
<tr><th>RFID</th><td data-key="rfid">{{.Display.RFID}}</td></tr>
<tr><th>Distancia</th><td data-key="distance">{{.Display.Distance}}</td></tr>
<tr><th>Pluma entrada</th><td data-key="entrance_barrier">{{.Display.EntranceBarrier}}</td></tr>
<tr><th>Pluma salida</th><td data-key="exit_barrier">{{.Display.ExitBarrier}}</td></tr>
<tr><th>Cajón 1</th><td data-key="slot1">{{.Display.Slot1}}</td></tr>
<tr><th>Cajón 2</th><td data-key="slot2">{{.Display.Slot2}}</td></tr>
<tr><th>Disponibles</th><td data-key="available">{{.Display.Available}}</td></tr>
</tbody>
</table>
<h2>Parámetros</h2>
<table>
<tbody id="params">
{{range .Fields}}<tr><th>{{.Label}}</th><td>{{.Text}}</td></tr>{{end}}
</tbody>
</table>
<script>
const labels = {connected: '✓ Conectado', disconnected: '✗ Desconectado', unknown: '… Conectando'};
async function poll() {
  try {
    const res = await fetch('/api/state');
    const view = await res.json();
    const d = view.display;
    document.querySelectorAll('#status td').forEach(td => { td.textContent = d[td.dataset.key]; });
    const badge = document.getElementById('badge');
    badge.className = 'badge ' + d.connectivity;
    badge.textContent = labels[d.connectivity] || d.connectivity;
    document.getElementById('updated').textContent = d.updated_at;
    const rows = (view.fields || []).map(f => '<tr><th></th><td></td></tr>');
    const body = document.getElementById('params');
    body.innerHTML = rows.join('');
    (view.fields || []).forEach((f, i) => {
      body.rows[i].cells[0].textContent = f.label;
      body.rows[i].cells[1].textContent = f.text;
    });
  } catch (e) {
    document.getElementById('badge').className = 'badge disconnected';
  }
}
document.getElementById('refresh').addEventListener('click', () => fetch('/api/refresh', {method: 'POST'}).then(poll));
setInterval(poll, 1000);
</script>
</body>
</html>
`))

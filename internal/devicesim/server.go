package devicesim

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Server exposes a simulated device on a TCP listener and advances its
// traffic on a fixed step.
type Server struct {
	device *Device
	server *http.Server
	ln     net.Listener
	logger zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// Serve starts the simulated device on listen. step <= 0 keeps the state
// frozen.
func Serve(listen string, device *Device, step time.Duration, logger zerolog.Logger) (*Server, error) {
	if listen == "" {
		listen = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		device: device,
		server: &http.Server{Handler: device.Handler(), ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger.With().Str("component", "device_simulator").Logger(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("simulated device stopped")
		}
	}()
	go s.advance(ctx, step)
	s.logger.Info().Str("listen", ln.Addr().String()).Msg("simulated device started")
	return s, nil
}

func (s *Server) advance(ctx context.Context, step time.Duration) {
	defer close(s.done)
	if step <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.device.Step()
		}
	}
}

// Addr returns the host:port the device listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Device returns the simulated device.
func (s *Server) Device() *Device {
	return s.device
}

// Close stops the server.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	s.cancel()
	<-s.done
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewValidatesCollaborators(t *testing.T) {
	if _, err := New(Config{Runtime: &stubPinger{}}); !errors.Is(err, ErrServer) {
		t.Errorf("New without builds = %v, want ErrServer", err)
	}
	if _, err := New(Config{Builds: &stubBuilds{}}); !errors.Is(err, ErrServer) {
		t.Errorf("New without runtime = %v, want ErrServer", err)
	}
}

func TestIsSocketPath(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"/run/kilnd/kilnd.sock", true},
		{"./kilnd.sock", true},
		{"127.0.0.1:8080", false},
		{":8080", false},
		{"localhost:4321", false},
	}

	for _, tt := range tests {
		if got := isSocketPath(tt.addr); got != tt.want {
			t.Errorf("isSocketPath(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestServerOverUnixSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "kilnd.sock")

	srv, err := New(Config{Listen: socket, Builds: &stubBuilds{}, Runtime: &stubPinger{version: "28.0.1"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return net.Dial("unix", socket)
			},
		},
	}

	resp, err := client.Get("http://kilnd/v1/healthz")
	if err != nil {
		t.Fatalf("GET over socket failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		srv.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Stop")
	}

	if _, err := os.Stat(socket); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket file still present after Stop: %v", err)
	}
}

func TestServerOverTCP(t *testing.T) {
	srv, err := New(Config{Listen: "127.0.0.1:0", Builds: &stubBuilds{}, Runtime: &stubPinger{version: "28.0.1"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	}()

	resp, err := http.Get("http://" + srv.listener.Addr().String() + "/v1/healthz")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestStartRejectsOccupiedAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	srv, err := New(Config{Listen: ln.Addr().String(), Builds: &stubBuilds{}, Runtime: &stubPinger{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := srv.Start(); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
		t.Fatal("Start on occupied address succeeded, want error")
	}
}

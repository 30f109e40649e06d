package service_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tunnelsync/internal/client/binding"
	"tunnelsync/internal/client/interactor"
	"tunnelsync/internal/client/state"
	"tunnelsync/internal/server/service"
	"tunnelsync/internal/shared/protocol"
	"tunnelsync/internal/shared/transport"

	"go.uber.org/zap"
)

func startService(t *testing.T, cfg service.Config) *service.Service {
	t.Helper()
	if cfg.Endpoint.Address == "" {
		cfg.Endpoint = transport.Endpoint{
			Scheme:  transport.SchemeUnix,
			Address: filepath.Join(t.TempDir(), "ts.sock"),
		}
	}
	cfg.Engine.Region = "CA"
	cfg.Engine.SponsorID = "sponsor"
	cfg.Engine.HTTPProxyPort = 8080
	cfg.Engine.HomePages = []string{"https://home.example"}
	cfg.Engine.EstablishDelay = 30 * time.Millisecond
	cfg.Engine.StatsInterval = 20 * time.Millisecond

	svc, err := service.New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		svc.Stop()
		<-svc.Done()
	})
	return svc
}

func newClient(t *testing.T, targets ...transport.Endpoint) *interactor.Interactor {
	t.Helper()
	src := binding.NewSource(binding.Config{
		Targets:      targets,
		AttachWindow: 500 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}, zap.NewNop())
	it := interactor.New(interactor.Options{
		Source:        src,
		BindTimeout:   300 * time.Millisecond,
		ClientVersion: "test",
		Logger:        zap.NewNop(),
	})
	t.Cleanup(it.Close)
	return it
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func connected(it *interactor.Interactor) bool {
	cd, ok := it.CurrentState().ConnectionData()
	return ok && cd.IsConnected
}

func TestService_ClientSeesConnectedState(t *testing.T) {
	svc := startService(t, service.Config{VPN: true})
	it := newClient(t, svc.Endpoint())

	states := it.TunnelStates()
	defer states.Close()
	regions := it.KnownRegions()
	defer regions.Close()

	it.Resume()
	waitFor(t, "connected", func() bool { return connected(it) })

	cd, _ := it.CurrentState().ConnectionData()
	if !cd.VPNMode || cd.ClientRegion != "CA" || cd.ClientVersion != "test" {
		t.Errorf("ConnectionData = %+v, want vpn in CA from client test", cd)
	}
	if len(cd.HomePages) != 1 {
		t.Errorf("HomePages = %v, want 1 entry", cd.HomePages)
	}
	if svc.RegisteredClients() != 1 {
		t.Errorf("RegisteredClients() = %d, want 1", svc.RegisteredClients())
	}

	select {
	case <-regions.C():
	case <-time.After(2 * time.Second):
		t.Error("no known regions signal")
	}

	it.Pause()
	waitFor(t, "unregister", func() bool { return svc.RegisteredClients() == 0 })
}

func TestService_StatsReachClient(t *testing.T) {
	svc := startService(t, service.Config{})
	it := newClient(t, svc.Endpoint())

	flags := it.DataStats()
	defer flags.Close()

	it.Resume()
	select {
	case c := <-flags.C():
		if !c {
			t.Error("stats connected flag = false, want true")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no stats received")
	}
}

func TestService_StopResolvesStopped(t *testing.T) {
	svc := startService(t, service.Config{})
	it := newClient(t, svc.Endpoint())

	it.Resume()
	waitFor(t, "running", func() bool { return it.CurrentState().IsRunning() })

	it.StopTunnelService()

	select {
	case <-svc.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("service did not shut down")
	}
	waitFor(t, "stopped", func() bool { return it.CurrentState().IsStopped() })
}

func TestService_RestartInPlace(t *testing.T) {
	svc := startService(t, service.Config{VPN: true})
	it := newClient(t, svc.Endpoint())

	it.Resume()
	waitFor(t, "connected", func() bool { return connected(it) })

	states := it.TunnelStates()
	defer states.Close()
	<-states.C()

	it.ScheduleRunningTunnelServiceRestart(true, func() { t.Error("unexpected full restart") })

	sawDisconnect := false
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-states.C():
			cd, ok := s.ConnectionData()
			if !ok {
				t.Fatalf("state = %v during in-place restart, want running", s)
			}
			if !cd.IsConnected {
				sawDisconnect = true
			} else if sawDisconnect {
				return
			}
		case <-deadline:
			t.Fatalf("no reconnect after restart (saw disconnect %v)", sawDisconnect)
		}
	}
}

func TestService_FullRestartWaitsForShutdown(t *testing.T) {
	svc := startService(t, service.Config{VPN: true})
	it := newClient(t, svc.Endpoint())

	it.Resume()
	waitFor(t, "running", func() bool { return it.CurrentState().IsRunning() })

	relaunch := make(chan error, 1)
	it.ScheduleRunningTunnelServiceRestart(false, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		conn, err := transport.Dial(ctx, svc.Endpoint())
		if err == nil {
			conn.Close()
		}
		relaunch <- err
	})

	select {
	case err := <-relaunch:
		if err == nil {
			t.Error("service still accepting binds when onNeedFullRestart ran")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("onNeedFullRestart not called")
	}

	select {
	case <-svc.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("service did not shut down")
	}
}

func TestService_ConnectionInfoExchange(t *testing.T) {
	key, err := service.GenerateExchangeKey()
	if err != nil {
		t.Fatalf("GenerateExchangeKey() error = %v", err)
	}
	svc := startService(t, service.Config{ExchangeKey: key})
	it := newClient(t, svc.Endpoint())

	exchanges := it.NfcExchanges()
	defer exchanges.Close()

	it.Resume()
	waitFor(t, "connected", func() bool { return connected(it) })

	it.ExportConnectionInfo()
	var exported state.NfcExchange
	select {
	case exported = <-exchanges.C():
	case <-time.After(2 * time.Second):
		t.Fatal("no export response")
	}
	if exported.Kind != state.Exported || exported.Payload == "" {
		t.Fatalf("export result = %+v, want non-empty exported payload", exported)
	}

	it.ImportConnectionInfo(exported.Payload)
	select {
	case got := <-exchanges.C():
		if got != state.ImportedExchange(true) {
			t.Errorf("import result = %+v, want success", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no import response")
	}

	it.ImportConnectionInfo("garbage")
	select {
	case got := <-exchanges.C():
		if got != state.ImportedExchange(false) {
			t.Errorf("import result = %+v, want failure", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no import response for garbage")
	}
}

func TestService_WebSocketEndpoint(t *testing.T) {
	svc := startService(t, service.Config{WebSocketAddr: "127.0.0.1:0"})

	ep, err := transport.ParseEndpoint(svc.WebSocketURL())
	if err != nil {
		t.Fatalf("ParseEndpoint(%q) error = %v", svc.WebSocketURL(), err)
	}
	it := newClient(t, ep)

	it.Resume()
	waitFor(t, "connected over websocket", func() bool { return connected(it) })
}

func TestService_TCPEndpoint(t *testing.T) {
	svc := startService(t, service.Config{
		Endpoint: transport.Endpoint{Scheme: transport.SchemeTCP, Address: "127.0.0.1:0"},
	})
	it := newClient(t, svc.Endpoint())

	it.Resume()
	waitFor(t, "connected over tcp", func() bool { return connected(it) })
}

func TestService_IgnoresUnknownOpcode(t *testing.T) {
	svc := startService(t, service.Config{})

	conn, err := transport.Dial(context.Background(), svc.Endpoint())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteFrame(&protocol.Frame{Opcode: 0x3f}); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	register, _ := protocol.NewControlFrame(protocol.OpRegister, nil)
	if err := conn.WriteFrame(register); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	frame, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if protocol.EventOpcode(frame.Opcode) != protocol.EvTunnelConnectionState {
		t.Errorf("first event = %v, want TUNNEL_CONNECTION_STATE", protocol.EventOpcode(frame.Opcode))
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	if _, err := service.New(service.Config{
		Endpoint: transport.Endpoint{Scheme: transport.SchemeWS, Address: "ws://127.0.0.1:1/ipc"},
	}, zap.NewNop()); err == nil {
		t.Error("New() with ws control endpoint succeeded, want error")
	}
	if _, err := service.New(service.Config{
		Endpoint:    transport.Endpoint{Scheme: transport.SchemeTCP, Address: "127.0.0.1:0"},
		ExchangeKey: "short",
	}, zap.NewNop()); err == nil {
		t.Error("New() with bad exchange key succeeded, want error")
	}
}

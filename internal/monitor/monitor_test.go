package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/FireKid846/whatsapp-web/internal/connector"
	"github.com/FireKid846/whatsapp-web/internal/credstore"
	"github.com/FireKid846/whatsapp-web/internal/models"
	"github.com/FireKid846/whatsapp-web/internal/notify"
	"github.com/FireKid846/whatsapp-web/internal/relay"
)

func TestNew_Validation(t *testing.T) {
	creds, _ := credstore.New(t.TempDir())
	base := Opts{
		Store:       newMemStore(),
		Connector:   connector.NewMockConnector(),
		Credentials: creds,
		StaleAfter:  time.Minute,
	}
	tests := []struct {
		name  string
		tweak func(*Opts)
	}{
		{"no store", func(o *Opts) { o.Store = nil }},
		{"no connector", func(o *Opts) { o.Connector = nil }},
		{"no credentials", func(o *Opts) { o.Credentials = nil }},
		{"no stale threshold", func(o *Opts) { o.StaleAfter = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.tweak(&opts)
			if _, err := New(opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	m, err := New(base)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.cancel()
}

func TestFirstConnect_RunsSuccessPipeline(t *testing.T) {
	h := newHarness(t, nil, waiting("s1")...)

	if n := h.m.PollOnce(context.Background()); n != 1 {
		t.Fatalf("PollOnce = %d, want 1", n)
	}
	mh := h.nextHandle(t)
	if want, _ := h.creds.Path("s1"); mh.CredPath != want {
		t.Errorf("cred path = %q, want %q", mh.CredPath, want)
	}
	if !h.creds.Exists("s1") {
		t.Error("credential directory should exist before connecting")
	}

	mh.EmitOpen()
	waitFor(t, "archive locator", func() bool { return h.store.get("s1").SavedToGithub })

	sess := h.store.get("s1")
	if sess.Status != models.StatusConnected {
		t.Errorf("status = %q, want connected", sess.Status)
	}
	if sess.ConnectedAt == nil || !sess.ConnectedAt.Equal(h.clock.Now()) {
		t.Errorf("connected_at = %v, want %v", sess.ConnectedAt, h.clock.Now())
	}
	if sess.GithubURL == nil || *sess.GithubURL != testLocator {
		t.Errorf("github_url = %v", sess.GithubURL)
	}
	if !h.store.hasLog("s1", models.LogInfo, "Session connected successfully") {
		t.Error("missing connected log entry")
	}

	sent := mh.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sent))
	}
	if sent[0].To != "15550000@s.whatsapp.net" || sent[0].Msg.ImageURL == "" || sent[0].Msg.Caption != "Welcome aboard" {
		t.Errorf("first message = %+v", sent[0])
	}
	if sent[1].Msg.Text != notify.SessionText("s1") {
		t.Errorf("second message = %+v", sent[1])
	}

	if got := h.relay.PostedCount(); got != 2 {
		t.Errorf("relayed %d events, want connected and archived", got)
	}
	snap := h.m.registry.Snapshot()
	if len(snap) != 1 || snap[0].State != StateOpen {
		t.Errorf("snapshot = %+v, want one open entry", snap)
	}

	if n := h.m.PollOnce(context.Background()); n != 0 {
		t.Errorf("connected record re-admitted (%d)", n)
	}
}

func TestDuplicateOpen_PipelineRunsOnce(t *testing.T) {
	h := newHarness(t, nil, waiting("s1")...)
	h.m.PollOnce(context.Background())
	mh := h.nextHandle(t)

	mh.EmitOpen()
	mh.EmitOpen()
	mh.EmitClose(connector.CodeRestartRequired)
	waitFor(t, "entry removal", func() bool { return !h.m.registry.owned("s1") })

	if n := h.archiver.count("s1"); n != 1 {
		t.Errorf("archive ran %d times, want 1", n)
	}
	if n := len(mh.Sent()); n != 2 {
		t.Errorf("sent %d messages, want 2", n)
	}
	if mh.CloseCount() != 1 {
		t.Errorf("handle closed %d times, want 1", mh.CloseCount())
	}
}

func TestRestartRequired_RetriesWithSameCredentials(t *testing.T) {
	h := newHarness(t, nil, waiting("s1")...)
	ctx := context.Background()

	h.m.PollOnce(ctx)
	first := h.nextHandle(t)
	if err := credstore.WriteFile(first.CredPath, "creds.json", []byte(`{"k":1}`)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	first.EmitClose(connector.CodeRestartRequired)
	waitFor(t, "entry removal", func() bool { return !h.m.registry.owned("s1") })

	if first.CloseCount() != 1 {
		t.Error("old handle should be closed")
	}
	if got := h.store.get("s1").Status; got != models.StatusWaiting {
		t.Errorf("status = %q, want waiting", got)
	}
	files, err := credstore.Files(first.CredPath)
	if err != nil || len(files) != 1 {
		t.Fatalf("credentials = %v (%v), want kept", files, err)
	}

	if n := h.m.PollOnce(ctx); n != 1 {
		t.Fatalf("retry PollOnce = %d, want 1", n)
	}
	second := h.nextHandle(t)
	if second == first {
		t.Fatal("retry must use a fresh handle")
	}
	if second.CredPath != first.CredPath {
		t.Errorf("retry cred path = %q, want %q", second.CredPath, first.CredPath)
	}
	if n := h.conn.OpenCount("s1"); n != 2 {
		t.Errorf("OpenCount = %d, want 2", n)
	}
}

func TestLoggedOut_MarksDisconnected(t *testing.T) {
	for _, purge := range []bool{false, true} {
		name := "keep credentials"
		if purge {
			name = "purge credentials"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, func(o *Opts) { o.PurgeOnLogout = purge }, waiting("s1")...)
			ctx := context.Background()

			h.m.PollOnce(ctx)
			mh := h.nextHandle(t)
			mh.EmitClose(connector.CodeLoggedOut)
			waitFor(t, "entry removal", func() bool { return !h.m.registry.owned("s1") })

			if got := h.store.get("s1").Status; got != models.StatusDisconnected {
				t.Errorf("status = %q, want disconnected", got)
			}
			if h.creds.Exists("s1") == purge {
				t.Errorf("credentials exist = %v with purge %v", h.creds.Exists("s1"), purge)
			}
			if ev, ok := h.relay.LastPosted(); !ok || ev.Title != relay.LoggedOut("s1").Title {
				t.Errorf("last relayed event = %+v", ev)
			}

			if n := h.m.PollOnce(ctx); n != 0 {
				t.Errorf("logged-out record re-admitted (%d)", n)
			}
			if n := h.conn.OpenCount("s1"); n != 1 {
				t.Errorf("OpenCount = %d, want 1", n)
			}
		})
	}
}

func TestUnexpectedClose_LeavesStatusAndLogs(t *testing.T) {
	h := newHarness(t, nil, waiting("s1")...)
	h.m.PollOnce(context.Background())
	mh := h.nextHandle(t)

	mh.EmitClose(428)
	waitFor(t, "entry removal", func() bool { return !h.m.registry.owned("s1") })

	if got := h.store.get("s1").Status; got != models.StatusWaiting {
		t.Errorf("status = %q, want unchanged", got)
	}
	if !h.store.hasLog("s1", models.LogWarn, "Connection closed unexpectedly (code 428)") {
		t.Error("missing warn log entry")
	}
	if mh.CloseCount() != 1 {
		t.Error("handle should be closed")
	}
}

func TestStaleReap_ReleasesAndDeletesCredentials(t *testing.T) {
	h := newHarness(t, nil, waiting("s1")...)
	ctx := context.Background()

	h.m.PollOnce(ctx)
	mh := h.nextHandle(t)
	waitFor(t, "registration", func() bool { return len(h.m.registry.Entries()) == 1 })

	h.clock.Advance(4 * time.Minute)
	if n := h.m.ReapOnce(ctx); n != 0 {
		t.Fatalf("reaped %d fresh entries", n)
	}

	h.clock.Advance(2 * time.Minute)
	if n := h.m.ReapOnce(ctx); n != 1 {
		t.Fatalf("ReapOnce = %d, want 1", n)
	}
	if !mh.Detached() || mh.CloseCount() != 1 {
		t.Errorf("handle detached=%v closes=%d", mh.Detached(), mh.CloseCount())
	}
	if h.m.registry.owned("s1") {
		t.Error("reaped identity should be free")
	}
	if h.creds.Exists("s1") {
		t.Error("reaped credentials should be deleted")
	}
	if ev, ok := h.relay.LastPosted(); !ok || ev.Title != relay.Reaped("s1", 0).Title {
		t.Errorf("last relayed event = %+v", ev)
	}

	// A late event on the detached handle changes nothing.
	if mh.EmitClose(connector.CodeLoggedOut) {
		t.Error("detached handle accepted an event")
	}
	if got := h.store.get("s1").Status; got != models.StatusWaiting {
		t.Errorf("status = %q, want waiting", got)
	}

	if n := h.m.PollOnce(ctx); n != 1 {
		t.Fatalf("re-admission PollOnce = %d, want 1", n)
	}
	h.nextHandle(t)
}

func TestActivity_PostponesReap(t *testing.T) {
	h := newHarness(t, nil, waiting("s1")...)
	ctx := context.Background()

	h.m.PollOnce(ctx)
	mh := h.nextHandle(t)
	waitFor(t, "registration", func() bool { return len(h.m.registry.Entries()) == 1 })

	h.clock.Advance(4 * time.Minute)
	mh.Emit(connector.Event{Kind: connector.CredentialsUpdated})
	waitFor(t, "activity", func() bool {
		snap := h.m.registry.Snapshot()
		return len(snap) == 1 && snap[0].LastActivity.Equal(h.clock.Now())
	})

	h.clock.Advance(2 * time.Minute)
	if n := h.m.ReapOnce(ctx); n != 0 {
		t.Errorf("ReapOnce = %d, want 0 after recent activity", n)
	}
}

func TestHeartbeat_PostponesReapWithoutStateChange(t *testing.T) {
	h := newHarness(t, nil, waiting("s1")...)
	ctx := context.Background()

	h.m.PollOnce(ctx)
	mh := h.nextHandle(t)
	waitFor(t, "registration", func() bool { return len(h.m.registry.Entries()) == 1 })

	h.clock.Advance(4 * time.Minute)
	mh.Emit(connector.Event{Kind: connector.Heartbeat})
	waitFor(t, "activity", func() bool {
		snap := h.m.registry.Snapshot()
		return len(snap) == 1 && snap[0].LastActivity.Equal(h.clock.Now())
	})

	h.clock.Advance(2 * time.Minute)
	if n := h.m.ReapOnce(ctx); n != 0 {
		t.Errorf("ReapOnce = %d, want 0 after a heartbeat", n)
	}
	if snap := h.m.registry.Snapshot(); len(snap) != 1 || snap[0].State != StateConnecting {
		t.Errorf("snapshot = %+v, want one connecting entry", snap)
	}
	if n := h.archiver.count("s1"); n != 0 {
		t.Errorf("heartbeat ran the pipeline %d times", n)
	}
}

func TestBlockedWelcome_ReleasedWhenTransportDrops(t *testing.T) {
	h := newHarness(t, nil, waiting("s1")...)
	ctx := context.Background()

	h.m.PollOnce(ctx)
	mh := h.nextHandle(t)
	if err := credstore.WriteFile(mh.CredPath, "creds.json", []byte(`{"k":1}`)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	mh.BlockSends()

	mh.EmitOpen()
	waitFor(t, "blocked welcome send", func() bool { return mh.Blocked() == 1 })

	// The transport goes away while the controller waits on the send.
	mh.Drop(connector.CodeRestartRequired)
	waitFor(t, "entry removal", func() bool { return !h.m.registry.owned("s1") })

	if len(mh.Sent()) != 0 {
		t.Errorf("sent %d messages, want 0", len(mh.Sent()))
	}
	if n := h.archiver.count("s1"); n != 1 {
		t.Errorf("archive ran %d times, want 1", n)
	}
	if mh.CloseCount() != 1 {
		t.Errorf("handle closed %d times, want 1", mh.CloseCount())
	}

	// Restart keeps credentials; nothing is left for the reaper.
	h.clock.Advance(time.Hour)
	if n := h.m.ReapOnce(ctx); n != 0 {
		t.Errorf("ReapOnce = %d, want 0", n)
	}
	files, err := credstore.Files(mh.CredPath)
	if err != nil || len(files) != 1 {
		t.Errorf("credentials = %v (%v), want kept", files, err)
	}
}

func TestShutdown_ClosesEverythingAndKeepsCredentials(t *testing.T) {
	h := newHarness(t, nil, waiting("s1", "s2")...)

	if n := h.m.PollOnce(context.Background()); n != 2 {
		t.Fatalf("PollOnce = %d, want 2", n)
	}
	handles := []*connector.MockHandle{h.nextHandle(t), h.nextHandle(t)}
	waitFor(t, "registration", func() bool { return len(h.m.registry.Entries()) == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.m.Shutdown(ctx, nil); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for _, mh := range handles {
		if mh.CloseCount() != 1 {
			t.Errorf("%s closed %d times, want 1", mh.ID, mh.CloseCount())
		}
		if !h.creds.Exists(mh.ID) {
			t.Errorf("%s credentials deleted on shutdown", mh.ID)
		}
	}
	if active, pending := h.m.registry.Counts(); active != 0 || pending != 0 {
		t.Errorf("counts after shutdown = %d/%d", active, pending)
	}
	if n := h.m.PollOnce(context.Background()); n != 0 {
		t.Errorf("PollOnce after shutdown = %d, want 0", n)
	}
}

func TestSetupError_LogsAndReleases(t *testing.T) {
	h := newHarness(t, nil, waiting("s1")...)
	ctx := context.Background()
	h.conn.SetOpenError(errors.New("dial refused"))

	if n := h.m.PollOnce(ctx); n != 1 {
		t.Fatalf("PollOnce = %d, want 1", n)
	}
	waitFor(t, "error log", func() bool {
		return h.store.hasLog("s1", models.LogError, "Monitor error: dial refused")
	})
	waitFor(t, "release", func() bool { return !h.m.registry.owned("s1") })
	if got := h.store.get("s1").Status; got != models.StatusWaiting {
		t.Errorf("status = %q, want waiting", got)
	}

	h.conn.SetOpenError(nil)
	if n := h.m.PollOnce(ctx); n != 1 {
		t.Fatalf("retry PollOnce = %d, want 1", n)
	}
	h.nextHandle(t)
}

func TestPollOnce_QueryErrorSkipsTick(t *testing.T) {
	h := newHarness(t, nil, waiting("s1")...)
	h.store.setListErr(errors.New("connection refused"))

	if n := h.m.PollOnce(context.Background()); n != 0 {
		t.Errorf("PollOnce = %d, want 0", n)
	}
	if h.conn.OpenCount("s1") != 0 {
		t.Error("no connection should be attempted")
	}
}

func TestPollOnce_SkipsOwnedIdentity(t *testing.T) {
	h := newHarness(t, nil, waiting("s1")...)
	ctx := context.Background()

	h.m.PollOnce(ctx)
	if n := h.m.PollOnce(ctx); n != 0 {
		t.Errorf("second PollOnce = %d, want 0", n)
	}
	h.nextHandle(t)
	if n := h.m.PollOnce(ctx); n != 0 {
		t.Errorf("PollOnce after register = %d, want 0", n)
	}
	if n := h.conn.OpenCount("s1"); n != 1 {
		t.Errorf("OpenCount = %d, want 1", n)
	}
}

func TestPollOnce_Pacing(t *testing.T) {
	h := newHarness(t, func(o *Opts) { o.Pacing = 50 * time.Millisecond }, waiting("s1", "s2", "s3")...)

	start := time.Now()
	if n := h.m.PollOnce(context.Background()); n != 3 {
		t.Fatalf("PollOnce = %d, want 3", n)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("three admissions took %v, want paced", elapsed)
	}
}

func TestLease_HeldElsewhereIsSkipped(t *testing.T) {
	leaser := &fakeLeaser{held: map[string]bool{"s1": true}}
	h := newHarness(t, func(o *Opts) { o.Lease = leaser }, waiting("s1", "s2")...)
	ctx := context.Background()

	if n := h.m.PollOnce(ctx); n != 1 {
		t.Fatalf("PollOnce = %d, want 1", n)
	}
	mh := h.nextHandle(t)
	if mh.ID != "s2" {
		t.Errorf("admitted %s, want s2", mh.ID)
	}
	if h.m.registry.owned("s1") {
		t.Error("leased identity must not stay admitted")
	}

	waitFor(t, "registration", func() bool { return len(h.m.registry.Entries()) == 1 })
	h.m.StatusOnce(ctx)
	if _, refreshed := leaser.calls(); len(refreshed) != 1 || refreshed[0] != "s2" {
		t.Errorf("refreshed = %v, want [s2]", refreshed)
	}

	mh.EmitClose(connector.CodeRestartRequired)
	waitFor(t, "lease release", func() bool {
		released, _ := leaser.calls()
		return len(released) == 1 && released[0] == "s2"
	})
}

func TestPipeline_FailuresDoNotChangeState(t *testing.T) {
	h := newHarness(t, nil, waiting("s1")...)
	h.archiver.err = errors.New("forbidden")
	h.m.PollOnce(context.Background())
	mh := h.nextHandle(t)
	mh.SetSendError(errors.New("not on whatsapp"))

	mh.EmitOpen()
	waitFor(t, "archive error log", func() bool {
		return h.store.hasLog("s1", models.LogWarn, "Archive error: forbidden")
	})

	sess := h.store.get("s1")
	if sess.Status != models.StatusConnected || sess.SavedToGithub {
		t.Errorf("session = %+v, want connected and not archived", sess)
	}
	if len(mh.Sent()) != 0 {
		t.Error("failed sends should not be recorded")
	}
	if snap := h.m.registry.Snapshot(); len(snap) != 1 || snap[0].State != StateOpen {
		t.Errorf("snapshot = %+v, want open", snap)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t, nil, waiting("s1")...)
	h.m.PollOnce(context.Background())
	h.nextHandle(t)
	waitFor(t, "registration", func() bool { return len(h.m.registry.Entries()) == 1 })

	h.clock.Advance(90 * time.Second)
	st := h.m.Stats()
	if st.Active != 1 || st.Pending != 0 || st.Uptime != 90*time.Second {
		t.Errorf("stats = %+v", st)
	}
}

func TestRun_PollsImmediatelyAndDrainsOnCancel(t *testing.T) {
	h := newHarness(t, func(o *Opts) {
		o.PollInterval = time.Hour
		o.ReapInterval = time.Hour
		o.StatusInterval = time.Hour
	}, waiting("s1")...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.m.Run(ctx) }()

	mh := h.nextHandle(t)
	waitFor(t, "registration", func() bool { return len(h.m.registry.Entries()) == 1 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if mh.CloseCount() != 1 {
		t.Error("handle should be closed on shutdown")
	}
	if !h.creds.Exists("s1") {
		t.Error("credentials should survive shutdown")
	}
}

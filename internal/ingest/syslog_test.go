package ingest

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/1sec-project/shieldcore/internal/core"
	"github.com/1sec-project/shieldcore/internal/shield"
	"github.com/rs/zerolog"
)

type recordingSink struct {
	mu     sync.Mutex
	events []shield.ThreatEvent
	err    error
}

func (r *recordingSink) SubmitThreat(ev shield.ThreatEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) snapshot() []shield.ThreatEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shield.ThreatEvent(nil), r.events...)
}

func waitForEvents(t *testing.T, sink *recordingSink, n int) []shield.ThreatEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if evs := sink.snapshot(); len(evs) >= n {
			return evs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", n, len(sink.snapshot()))
	return nil
}

// ─── parseSyslog ──────────────────────────────────────────────────────────────

func TestParseSyslog_RFC5424(t *testing.T) {
	raw := `<134>1 2025-06-15T10:30:00Z myhost myapp 1234 ID47 This is a test message`
	msg := parseSyslog(raw)
	if msg == nil {
		t.Fatal("expected non-nil message for RFC 5424 input")
	}
	// PRI 134 = facility 16 (local0), severity 6 (informational)
	if msg.Facility != 16 || msg.Severity != 6 {
		t.Errorf("Facility/Severity = %d/%d, want 16/6", msg.Facility, msg.Severity)
	}
	if msg.Hostname != "myhost" || msg.AppName != "myapp" || msg.ProcID != "1234" || msg.MsgID != "ID47" {
		t.Errorf("header fields = %+v", msg)
	}
	if msg.Timestamp == nil {
		t.Error("expected non-nil Timestamp")
	}
	if msg.Message != "This is a test message" {
		t.Errorf("Message = %q", msg.Message)
	}
}

func TestParseSyslog_RFC5424_NilValues(t *testing.T) {
	msg := parseSyslog(`<10>1 - - - - - port scan detected`)
	if msg == nil {
		t.Fatal("expected message")
	}
	if msg.Hostname != "" || msg.AppName != "" || msg.Timestamp != nil {
		t.Errorf("NILVALUE fields should be empty: %+v", msg)
	}
}

func TestParseSyslog_RFC3164(t *testing.T) {
	raw := `<38>Jun 15 10:30:00 myhost sshd[1234]: Failed password for root from 1.2.3.4 port 22`
	msg := parseSyslog(raw)
	if msg == nil {
		t.Fatal("expected non-nil message for RFC 3164 input")
	}
	// PRI 38 = facility 4 (auth), severity 6 (informational)
	if msg.Facility != 4 || msg.Severity != 6 {
		t.Errorf("Facility/Severity = %d/%d, want 4/6", msg.Facility, msg.Severity)
	}
	if msg.Hostname != "myhost" || msg.AppName != "sshd" || msg.ProcID != "1234" {
		t.Errorf("header fields = %+v", msg)
	}
	if !strings.HasPrefix(msg.Message, "Failed password") {
		t.Errorf("Message = %q", msg.Message)
	}
	if msg.Timestamp == nil {
		t.Error("expected BSD timestamp to parse")
	}
}

func TestParseSyslog_RFC3164_SingleDigitDay(t *testing.T) {
	msg := parseSyslog(`<38>Jun  5 10:30:00 myhost kernel: segfault at 0`)
	if msg == nil || msg.Timestamp == nil {
		t.Fatalf("expected parsed timestamp, got %+v", msg)
	}
	if msg.Timestamp.Day() != 5 {
		t.Errorf("day = %d, want 5", msg.Timestamp.Day())
	}
}

func TestParseSyslog_BarePriority(t *testing.T) {
	msg := parseSyslog(`<13>Some bare message without timestamp`)
	if msg == nil {
		t.Fatal("expected non-nil message for bare priority input")
	}
	if msg.Facility != 1 || msg.Severity != 5 {
		t.Errorf("Facility/Severity = %d/%d, want 1/5", msg.Facility, msg.Severity)
	}
	if msg.Message != "Some bare message without timestamp" {
		t.Errorf("Message = %q", msg.Message)
	}
}

func TestParseSyslog_EmptyAndUnparseable(t *testing.T) {
	if parseSyslog("") != nil || parseSyslog("   ") != nil {
		t.Error("expected nil for empty input")
	}
	if parseSyslog("just some random text") != nil {
		t.Error("expected nil for input without a priority")
	}
}

// ─── Classification ───────────────────────────────────────────────────────────

func TestSyslogSeverityToLevel(t *testing.T) {
	tests := []struct {
		sev  int
		want shield.ThreatLevel
	}{
		{0, shield.LevelCritical},
		{1, shield.LevelCritical},
		{2, shield.LevelHigh},
		{3, shield.LevelHigh},
		{4, shield.LevelMedium},
		{5, shield.LevelLow},
		{7, shield.LevelLow},
	}
	for _, tc := range tests {
		if got := syslogSeverityToLevel(tc.sev); got != tc.want {
			t.Errorf("syslogSeverityToLevel(%d) = %v, want %v", tc.sev, got, tc.want)
		}
	}
}

func TestClassifySyslogThreat(t *testing.T) {
	tests := []struct {
		app, msg string
		want     shield.ThreatType
	}{
		{"sshd", "Failed password for root from 1.2.3.4 port 22", shield.ThreatUnauthorizedAccess},
		{"sudo", "alice : user NOT in sudoers", shield.ThreatUnauthorizedAccess},
		{"kernel", "possible SYN flooding on port 443. Sending cookies.", shield.ThreatDDoS},
		{"suricata", "ET SCAN Nmap Scripting Engine User-Agent", shield.ThreatIntrusion},
		{"clamd", "/tmp/x.exe: Win.Trojan.Agent FOUND", shield.ThreatMalware},
		{"nginx", "blocked SQL injection attempt in /login", shield.ThreatExploit},
		{"dlp", "possible exfiltration of 2GB to 203.0.113.9", shield.ThreatDataExfiltration},
		{"postfix", "reject: RCPT from unknown: 554 Service unavailable; listed on RBL", shield.ThreatSpam},
		{"mailgw", "phishing URL detected in message", shield.ThreatPhishing},
		{"gateway", "client 10.0.0.1 rate limited on /api/v1/search", shield.ThreatAPIAbuse},
	}
	for _, tc := range tests {
		got, ok := classifySyslogThreat(&syslogMessage{AppName: tc.app, Message: tc.msg})
		if !ok || got != tc.want {
			t.Errorf("classify(%q, %q) = %q/%v, want %q", tc.app, tc.msg, got, ok, tc.want)
		}
	}

	if _, ok := classifySyslogThreat(&syslogMessage{AppName: "cron", Message: "session opened for user root"}); ok {
		t.Error("benign message should not classify")
	}
}

func TestThreatFromSyslog(t *testing.T) {
	ev, ok := threatFromSyslog(`<34>Oct 11 22:14:15 edge1 sshd[42]: Invalid user admin from 198.51.100.7`, "10.0.0.5")
	if !ok {
		t.Fatal("expected a threat")
	}
	if ev.Type != shield.ThreatUnauthorizedAccess {
		t.Errorf("Type = %q", ev.Type)
	}
	// PRI 34 = severity 2
	if ev.Level != shield.LevelHigh {
		t.Errorf("Level = %v, want HIGH", ev.Level)
	}
	if ev.Source != "syslog/edge1/sshd" {
		t.Errorf("Source = %q", ev.Source)
	}
	if ev.ID == "" {
		t.Error("expected a generated ID")
	}
	if err := ev.Validate(); err != nil {
		t.Errorf("threat should validate: %v", err)
	}
}

func TestThreatFromSyslog_ExplicitFields(t *testing.T) {
	ev, ok := threatFromSyslog(`<14>1 2025-06-15T10:30:00Z waf app - - threat=api_abuse level=critical burst from tenant 9`, "")
	if !ok {
		t.Fatal("expected a threat")
	}
	if ev.Type != shield.ThreatAPIAbuse || ev.Level != shield.LevelCritical {
		t.Errorf("got %q/%v, want api_abuse/CRITICAL", ev.Type, ev.Level)
	}
	if !ev.Timestamp.Equal(time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", ev.Timestamp)
	}

	// An unknown explicit type falls back to pattern matching.
	ev, ok = threatFromSyslog(`<14>threat=worm ddos detected`, "192.0.2.1")
	if !ok || ev.Type != shield.ThreatDDoS {
		t.Errorf("fallback classification = %q/%v", ev.Type, ok)
	}
	if ev.Source != "syslog/192.0.2.1" {
		t.Errorf("Source = %q", ev.Source)
	}
}

func TestThreatFromSyslog_Ignored(t *testing.T) {
	for _, raw := range []string{"", "<13>", "<13>system boot complete", "plain heartbeat"} {
		if _, ok := threatFromSyslog(raw, ""); ok {
			t.Errorf("threatFromSyslog(%q) should be ignored", raw)
		}
	}
}

func TestThreatFromSyslog_TruncatesLongFields(t *testing.T) {
	long := strings.Repeat("x", 5000)
	ev, ok := threatFromSyslog("<10>malware "+long, "")
	if !ok {
		t.Fatal("expected a threat")
	}
	if len(ev.Summary) != maxSummaryLen {
		t.Errorf("summary length = %d, want %d", len(ev.Summary), maxSummaryLen)
	}
	if err := ev.Validate(); err != nil {
		t.Errorf("truncated threat should validate: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abcdefghijkl", 8); got != "abcde..." {
		t.Errorf("truncate = %q", got)
	}
}

// ─── Server ───────────────────────────────────────────────────────────────────

func TestSyslogServer_StopWithoutStart(t *testing.T) {
	s := NewSyslogServer(core.SyslogConfig{Protocol: "udp"}, &recordingSink{}, zerolog.Nop())
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error: %v", err)
	}
	if s.Name() != "syslog_ingest" {
		t.Errorf("Name() = %q", s.Name())
	}
}

func TestSyslogServer_UDPAndTCP(t *testing.T) {
	sink := &recordingSink{}
	s := NewSyslogServer(core.SyslogConfig{Host: "127.0.0.1", Port: 0, Protocol: "both"}, sink, zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	udp, err := net.Dial("udp", s.UDPAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer udp.Close()
	fmt.Fprint(udp, `<10>1 2025-06-15T10:30:00Z fw1 kernel - - SYN flood from 203.0.113.4`)
	fmt.Fprint(udp, `<13>nothing to see here`)

	tcp, err := net.Dial("tcp", s.TCPAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(tcp, "<34>Oct 11 22:14:15 edge1 sshd[42]: Failed password for root\n")
	fmt.Fprint(tcp, "<34>Oct 11 22:14:16 edge1 clamd: eicar.com: Eicar-Test-Signature FOUND\n")
	tcp.Close()

	evs := waitForEvents(t, sink, 3)
	seen := map[shield.ThreatType]bool{}
	for _, ev := range evs {
		seen[ev.Type] = true
	}
	for _, want := range []shield.ThreatType{shield.ThreatDDoS, shield.ThreatUnauthorizedAccess, shield.ThreatMalware} {
		if !seen[want] {
			t.Errorf("missing %q in %v", want, evs)
		}
	}
}

func TestSyslogServer_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSyslogServer(core.SyslogConfig{Host: "127.0.0.1", Protocol: "tcp"}, &recordingSink{}, zerolog.Nop())
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	conn, err := net.Dial("tcp", s.TCPAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	cancel()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop() hung with an open TCP connection")
	}
}

func TestProcessMessage_SubmitErrors(t *testing.T) {
	sink := &recordingSink{err: core.ErrBackpressure}
	s := NewSyslogServer(core.SyslogConfig{}, sink, zerolog.Nop())
	// Must not panic or block when the engine refuses the threat.
	s.processMessage(`<10>ddos in progress`, "")
	if len(sink.snapshot()) != 0 {
		t.Error("refused threat should not be recorded")
	}
}

func TestSyslogServer_FeedsEngine(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Bus.Enabled = false
	cfg.Shield.CycleInterval = time.Hour
	cfg.Syslog = core.SyslogConfig{Enabled: true, Host: "127.0.0.1", Port: 0, Protocol: "udp"}

	engine, err := core.NewEngine(cfg, core.WithLogOutput(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	srv := NewSyslogServer(cfg.Syslog, engine, engine.Logger)
	if err := engine.Components.Register(srv); err != nil {
		t.Fatal(err)
	}
	if err := engine.Start(); err != nil {
		t.Fatal(err)
	}
	defer engine.Shutdown()

	conn, err := net.Dial("udp", srv.UDPAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	fmt.Fprint(conn, `<9>1 2025-06-15T10:30:00Z fw1 ids - - port scan from 198.51.100.20`)

	deadline := time.Now().Add(3 * time.Second)
	for engine.Scheduler.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if engine.Scheduler.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", engine.Scheduler.Pending())
	}
	st, err := engine.Scheduler.RunNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.ThreatsEvaluated != 1 {
		t.Errorf("evaluated = %d, want 1", st.ThreatsEvaluated)
	}
}

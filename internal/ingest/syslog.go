package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/1sec-project/shieldcore/internal/core"
	"github.com/1sec-project/shieldcore/internal/shield"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const (
	maxSourceLen  = 256
	maxSummaryLen = 1024
)

var syslogMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "shieldcore",
	Subsystem: "syslog",
	Name:      "messages_total",
	Help:      "Syslog messages received, by outcome.",
}, []string{"outcome"})

// SyslogServer listens for syslog messages (RFC 5424 / RFC 3164) over UDP
// and/or TCP, classifies each one into a threat type and submits it.
// Messages that match no threat pattern are counted and dropped.
type SyslogServer struct {
	cfg    core.SyslogConfig
	sink   Submitter
	logger zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	udpConn *net.UDPConn
	tcpLn   net.Listener
	wg      sync.WaitGroup
}

// NewSyslogServer creates a syslog listener feeding sink.
func NewSyslogServer(cfg core.SyslogConfig, sink Submitter, logger zerolog.Logger) *SyslogServer {
	return &SyslogServer{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With().Str("component", "syslog_ingest").Logger(),
	}
}

// Name identifies the listener in the component registry.
func (s *SyslogServer) Name() string { return "syslog_ingest" }

// Start begins listening. It returns once the sockets are bound.
func (s *SyslogServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(ctx)

	proto := strings.ToLower(s.cfg.Protocol)
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	if proto == "udp" || proto == "both" {
		if err := s.startUDP(addr); err != nil {
			s.closeLocked()
			return fmt.Errorf("starting syslog UDP listener: %w", err)
		}
	}
	if proto == "tcp" || proto == "both" {
		if err := s.startTCP(addr); err != nil {
			s.closeLocked()
			return fmt.Errorf("starting syslog TCP listener: %w", err)
		}
	}

	s.logger.Info().Str("addr", addr).Str("protocol", proto).Msg("syslog ingestion started")
	return nil
}

// Stop closes the listeners and waits for the readers to exit.
func (s *SyslogServer) Stop() error {
	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info().Msg("syslog ingestion stopped")
	return nil
}

func (s *SyslogServer) closeLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.udpConn != nil {
		s.udpConn.Close()
		s.udpConn = nil
	}
	if s.tcpLn != nil {
		s.tcpLn.Close()
		s.tcpLn = nil
	}
}

// UDPAddr returns the bound UDP address, or nil when UDP is not in use.
func (s *SyslogServer) UDPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udpConn == nil {
		return nil
	}
	return s.udpConn.LocalAddr()
}

// TCPAddr returns the bound TCP address, or nil when TCP is not in use.
func (s *SyslogServer) TCPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcpLn == nil {
		return nil
	}
	return s.tcpLn.Addr()
}

func (s *SyslogServer) startUDP(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolving UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listening on UDP %s: %w", addr, err)
	}
	s.udpConn = conn
	ctx := s.ctx

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		buf := make([]byte, 65536)
		for {
			n, remote, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Error().Err(err).Msg("UDP read error")
				continue
			}
			sourceIP := ""
			if remote != nil {
				sourceIP = remote.IP.String()
			}
			s.processMessage(string(buf[:n]), sourceIP)
		}
	}()
	return nil
}

func (s *SyslogServer) startTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on TCP %s: %w", addr, err)
	}
	s.tcpLn = ln
	ctx := s.ctx

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Error().Err(err).Msg("TCP accept error")
				continue
			}
			s.wg.Add(1)
			go s.handleTCPConn(ctx, conn)
		}
	}()
	return nil
}

func (s *SyslogServer) handleTCPConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// Unblock the scanner when the server stops.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sourceIP := ""
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		sourceIP = addr.IP.String()
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 65536), 65536)
	for scanner.Scan() {
		s.processMessage(scanner.Text(), sourceIP)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.logger.Debug().Err(err).Str("remote", sourceIP).Msg("TCP connection read error")
	}
}

// processMessage parses, classifies and submits one raw syslog line.
func (s *SyslogServer) processMessage(raw, sourceIP string) {
	ev, ok := threatFromSyslog(raw, sourceIP)
	if !ok {
		syslogMessages.WithLabelValues(outcomeIgnored).Inc()
		s.logger.Debug().Str("raw", truncate(raw, 200)).Msg("syslog message matched no threat pattern")
		return
	}

	outcome, err := submit(s.sink, ev)
	syslogMessages.WithLabelValues(outcome).Inc()
	switch outcome {
	case outcomeBackpressure:
		s.logger.Warn().Str("type", string(ev.Type)).Msg("threat queue full, syslog threat dropped")
	case outcomeFailed:
		s.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to submit syslog threat")
	}
}

// threatFromSyslog turns a raw syslog line into a threat. Explicit
// threat=<type> and level=<level> fields win over pattern matching.
func threatFromSyslog(raw, sourceIP string) (shield.ThreatEvent, bool) {
	parsed := parseSyslog(raw)
	if parsed == nil {
		parsed = &syslogMessage{Severity: 6, Facility: 1, Message: strings.TrimSpace(raw)}
	}
	if parsed.Message == "" {
		return shield.ThreatEvent{}, false
	}

	fields := keyValues(parsed.Message)
	threatType, ok := shield.ThreatType(""), false
	if v, found := fields["threat"]; found {
		if tt, err := shield.ParseThreatType(v); err == nil {
			threatType, ok = tt, true
		}
	}
	if !ok {
		threatType, ok = classifySyslogThreat(parsed)
	}
	if !ok {
		return shield.ThreatEvent{}, false
	}

	level := syslogSeverityToLevel(parsed.Severity)
	if v, found := fields["level"]; found {
		if l, valid := shield.ParseThreatLevel(v); valid {
			level = l
		}
	}

	ev := shield.NewThreatEvent(threatType, level)
	ev.Source = truncate(syslogSource(parsed, sourceIP), maxSourceLen)
	ev.Summary = truncate(parsed.Message, maxSummaryLen)
	if parsed.Timestamp != nil {
		ev.Timestamp = parsed.Timestamp.UTC()
	}
	return ev, true
}

func syslogSource(msg *syslogMessage, sourceIP string) string {
	parts := []string{"syslog"}
	if msg.Hostname != "" {
		parts = append(parts, msg.Hostname)
	} else if sourceIP != "" {
		parts = append(parts, sourceIP)
	}
	if msg.AppName != "" {
		parts = append(parts, msg.AppName)
	}
	return strings.Join(parts, "/")
}

// syslogMessage represents a parsed syslog message.
type syslogMessage struct {
	Facility  int
	Severity  int
	Timestamp *time.Time
	Hostname  string
	AppName   string
	ProcID    string
	MsgID     string
	Message   string
}

// RFC 5424: <PRI>VERSION TIMESTAMP HOSTNAME APP-NAME PROCID MSGID MSG
var rfc5424Re = regexp.MustCompile(`^<(\d{1,3})>(\d)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s*(.*)$`)

// RFC 3164: <PRI>TIMESTAMP HOSTNAME MSG
var rfc3164Re = regexp.MustCompile(`^<(\d{1,3})>([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+(.*)$`)

var barePriRe = regexp.MustCompile(`^<(\d{1,3})>(.+)$`)

func parseSyslog(raw string) *syslogMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if m := rfc5424Re.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		msg := &syslogMessage{
			Facility: pri / 8,
			Severity: pri % 8,
			Hostname: nilValue(m[4]),
			AppName:  nilValue(m[5]),
			ProcID:   nilValue(m[6]),
			MsgID:    nilValue(m[7]),
			Message:  m[8],
		}
		if t, err := time.Parse(time.RFC3339, m[3]); err == nil {
			msg.Timestamp = &t
		}
		return msg
	}

	if m := rfc3164Re.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		msg := &syslogMessage{
			Facility: pri / 8,
			Severity: pri % 8,
			Hostname: m[3],
			Message:  m[4],
		}
		// BSD timestamps carry no year.
		tsStr := fmt.Sprintf("%d %s", time.Now().Year(), m[2])
		if t, err := time.Parse("2006 Jan _2 15:04:05", tsStr); err == nil {
			msg.Timestamp = &t
		}
		// "sshd[1234]: message"
		if idx := strings.Index(msg.Message, ":"); idx > 0 && !strings.Contains(msg.Message[:idx], " ") {
			appPart := msg.Message[:idx]
			if pidIdx := strings.Index(appPart, "["); pidIdx > 0 {
				msg.AppName = appPart[:pidIdx]
				msg.ProcID = strings.Trim(appPart[pidIdx:], "[]")
			} else {
				msg.AppName = appPart
			}
			msg.Message = strings.TrimSpace(msg.Message[idx+1:])
		}
		return msg
	}

	if m := barePriRe.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		return &syslogMessage{
			Facility: pri / 8,
			Severity: pri % 8,
			Message:  m[2],
		}
	}
	return nil
}

// nilValue maps the RFC 5424 NILVALUE "-" to empty.
func nilValue(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

// syslogSeverityToLevel maps syslog severity (0=emergency..7=debug).
func syslogSeverityToLevel(sev int) shield.ThreatLevel {
	switch {
	case sev <= 1:
		return shield.LevelCritical
	case sev <= 3:
		return shield.LevelHigh
	case sev == 4:
		return shield.LevelMedium
	default:
		return shield.LevelLow
	}
}

var kvRe = regexp.MustCompile(`\b(threat|level)=("[^"]*"|\S+)`)

func keyValues(msg string) map[string]string {
	out := make(map[string]string)
	for _, m := range kvRe.FindAllStringSubmatch(msg, -1) {
		out[strings.ToLower(m[1])] = strings.Trim(m[2], `"`)
	}
	return out
}

// threatPatterns are tried in order; the first match wins. More specific
// threats come before the broad access and abuse patterns.
var threatPatterns = []struct {
	threat shield.ThreatType
	re     *regexp.Regexp
}{
	{shield.ThreatPhishing, regexp.MustCompile(`(?i)(phish|credential\s+harvest|spoofed\s+(sender|domain)|lookalike\s+domain)`)},
	{shield.ThreatMalware, regexp.MustCompile(`(?i)(malware|virus|trojan|ransomware|rootkit|backdoor|infected|clamav|FOUND$)`)},
	{shield.ThreatExploit, regexp.MustCompile(`(?i)(exploit|sql\s*injection|sqli|xss|remote\s+code|rce\b|buffer\s+overflow|shellshock|cve-\d{4}-\d+|segfault)`)},
	{shield.ThreatDataExfiltration, regexp.MustCompile(`(?i)(exfiltrat|data\s+leak|dns\s+tunnel|large\s+outbound|unusual\s+upload)`)},
	{shield.ThreatDDoS, regexp.MustCompile(`(?i)(ddos|syn\s+flood|udp\s+flood|icmp\s+flood|amplification|possible\s+syn\s+flooding|too\s+many\s+connections)`)},
	{shield.ThreatIntrusion, regexp.MustCompile(`(?i)(intrusion|port\s*scan|nmap|snort|suricata|ids\s+alert|scan\s+detected)`)},
	{shield.ThreatAPIAbuse, regexp.MustCompile(`(?i)(api\s+abuse|rate\s+limit(ed)?|quota\s+exceeded|scrap(ing|er)|\s429\s)`)},
	{shield.ThreatSpam, regexp.MustCompile(`(?i)(spam|rbl|blocklisted\s+sender|blacklisted|dnsbl)`)},
	{shield.ThreatUnauthorizedAccess, regexp.MustCompile(`(?i)(failed\s+password|authentication\s+failure|invalid\s+user|failed\s+login|access\s+denied|permission\s+denied|account\s+locked|not\s+in\s+sudoers)`)},
}

// classifySyslogThreat picks a threat type from the message content.
func classifySyslogThreat(msg *syslogMessage) (shield.ThreatType, bool) {
	combined := msg.AppName + " " + msg.Message
	for _, p := range threatPatterns {
		if p.re.MatchString(combined) {
			return p.threat, true
		}
	}
	return "", false
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

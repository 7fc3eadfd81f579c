package notifier

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

func TestEmailConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  EmailConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:    "empty config",
			config:  EmailConfig{},
			wantErr: true,
			errMsg:  "SMTP host is required",
		},
		{
			name:    "missing port",
			config:  EmailConfig{Host: "smtp.example.com"},
			wantErr: true,
			errMsg:  "SMTP port is required",
		},
		{
			name:    "missing from",
			config:  EmailConfig{Host: "smtp.example.com", Port: 587},
			wantErr: true,
			errMsg:  "from address is required",
		},
		{
			name: "valid config",
			config: EmailConfig{
				Host: "smtp.example.com",
				Port: 587,
				From: "WattMon <alerts@example.com>",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error containing %q, got nil", tt.errMsg)
				} else if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadTemplates(t *testing.T) {
	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("failed to load templates: %v", err)
	}

	if templates.html == nil {
		t.Error("HTML template is nil")
	}
	if templates.plain == nil {
		t.Error("plain template is nil")
	}
}

func TestTemplatesRender(t *testing.T) {
	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("failed to load templates: %v", err)
	}

	digest := testDigest(models.SeverityCritical)
	digest.OwnerName = "alice"
	digest.Alerts = append(digest.Alerts, &models.Alert{
		ID:        "b",
		Type:      models.AlertTypeSensorOnline,
		Severity:  models.SeverityInfo,
		Message:   "Sensor Kitchen is back online",
		CreatedAt: time.Now(),
	})
	data := DigestToTemplateData(digest)

	html, err := templates.RenderHTML(data)
	if err != nil {
		t.Fatalf("failed to render HTML: %v", err)
	}
	for _, want := range []string{"Cottage", "alice", "CRITICAL", "High power on Kitchen", "2500.0", "#d32f2f"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}

	plain, err := templates.RenderPlain(data)
	if err != nil {
		t.Fatalf("failed to render plain: %v", err)
	}
	for _, want := range []string{
		"Hello alice,",
		"are 2 new alerts",
		"* CRITICAL: High power on Kitchen",
		"Value: 2500.0, Threshold: 2000.0",
		"* INFO: Sensor Kitchen is back online",
	} {
		if !strings.Contains(plain, want) {
			t.Errorf("plain missing %q\n%s", want, plain)
		}
	}
	if strings.Count(plain, "Value:") != 1 {
		t.Error("value line should only appear for alerts with value and threshold")
	}
}

func TestDigestToTemplateData(t *testing.T) {
	digest := testDigest(models.SeverityWarning)
	digest.Alerts[0].Threshold = nil

	data := DigestToTemplateData(digest)

	if data.HouseName != "Cottage" {
		t.Errorf("HouseName = %q", data.HouseName)
	}
	if len(data.Alerts) != 1 {
		t.Fatalf("len(Alerts) = %d, want 1", len(data.Alerts))
	}
	line := data.Alerts[0]
	if line.HasValues {
		t.Error("HasValues should be false without a threshold")
	}
	if line.SeverityColor != "#f57c00" {
		t.Errorf("SeverityColor = %q", line.SeverityColor)
	}
	if line.CreatedAt != "2024-04-16 12:00:00 UTC" {
		t.Errorf("CreatedAt = %q", line.CreatedAt)
	}
}

func TestSeverityColor(t *testing.T) {
	tests := []struct {
		severity models.Severity
		want     string
	}{
		{models.SeverityCritical, "#d32f2f"},
		{models.SeverityWarning, "#f57c00"},
		{models.SeverityInfo, "#1976d2"},
		{models.Severity("unknown"), "#757575"},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			if got := severityColor(tt.severity); got != tt.want {
				t.Errorf("severityColor(%q) = %q, want %q", tt.severity, got, tt.want)
			}
		})
	}
}

func TestEmailNotifierName(t *testing.T) {
	notifier := &EmailNotifier{}
	if got := notifier.Name(); got != "email" {
		t.Errorf("Name() = %q, want %q", got, "email")
	}
}

func TestEmailNotifierNoRecipient(t *testing.T) {
	notifier, err := NewEmailNotifier(EmailConfig{Host: "localhost", Port: 25, From: "a@example.com"})
	if err != nil {
		t.Fatalf("NewEmailNotifier() error = %v", err)
	}
	digest := testDigest(models.SeverityInfo)
	digest.Recipient = ""
	if err := notifier.Send(context.Background(), digest); err != ErrNoRecipient {
		t.Errorf("Send() error = %v, want ErrNoRecipient", err)
	}
}

func TestBuildMIMEMessage(t *testing.T) {
	notifier := &EmailNotifier{
		config: EmailConfig{
			From: "WattMon <alerts@example.com>",
		},
	}

	msg := notifier.buildMIMEMessage("owner@example.com", "Test Subject", "Plain body", "<html>HTML body</html>")
	msgStr := string(msg)

	for _, want := range []string{
		"From: WattMon <alerts@example.com>",
		"To: owner@example.com",
		"Subject: Test Subject",
		"MIME-Version: 1.0",
		"multipart/alternative",
		"Plain body",
		"<html>HTML body</html>",
	} {
		if !strings.Contains(msgStr, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"test@example.com", "test@example.com"},
		{"Test User <test@example.com>", "test@example.com"},
		{"WattMon Alerts <alerts@example.com>", "alerts@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := extractEmail(tt.input); got != tt.want {
				t.Errorf("extractEmail(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// mockSMTPServer creates a mock SMTP server for testing.
type mockSMTPServer struct {
	listener net.Listener
	messages [][]byte
	rcpts    []string
	mu       sync.Mutex
	wg       sync.WaitGroup
}

func newMockSMTPServer(t *testing.T) *mockSMTPServer {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}

	server := &mockSMTPServer{
		listener: listener,
		messages: make([][]byte, 0),
	}

	server.wg.Add(1)
	go server.serve()

	return server
}

func (s *mockSMTPServer) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConnection(conn)
	}
}

func (s *mockSMTPServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	writer.WriteString("220 localhost SMTP Mock Server\r\n")
	writer.Flush()

	var dataMode bool
	var messageData []byte

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		line = strings.TrimSpace(line)

		if dataMode {
			if line == "." {
				dataMode = false
				s.mu.Lock()
				s.messages = append(s.messages, messageData)
				s.mu.Unlock()
				messageData = nil
				writer.WriteString("250 OK\r\n")
				writer.Flush()
				continue
			}
			messageData = append(messageData, []byte(line+"\n")...)
			continue
		}

		upperLine := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upperLine, "EHLO"), strings.HasPrefix(upperLine, "HELO"):
			writer.WriteString("250-localhost\r\n")
			writer.WriteString("250 OK\r\n")
			writer.Flush()
		case strings.HasPrefix(upperLine, "MAIL FROM"):
			writer.WriteString("250 OK\r\n")
			writer.Flush()
		case strings.HasPrefix(upperLine, "RCPT TO"):
			s.mu.Lock()
			s.rcpts = append(s.rcpts, line)
			s.mu.Unlock()
			writer.WriteString("250 OK\r\n")
			writer.Flush()
		case upperLine == "DATA":
			writer.WriteString("354 Start mail input\r\n")
			writer.Flush()
			dataMode = true
		case upperLine == "QUIT":
			writer.WriteString("221 Bye\r\n")
			writer.Flush()
			return
		default:
			writer.WriteString("500 Unknown command\r\n")
			writer.Flush()
		}
	}
}

func (s *mockSMTPServer) addr() string {
	return s.listener.Addr().String()
}

func (s *mockSMTPServer) close() {
	s.listener.Close()
	s.wg.Wait()
}

func (s *mockSMTPServer) getMessages() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([][]byte, len(s.messages))
	copy(result, s.messages)
	return result
}

func (s *mockSMTPServer) getRcpts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rcpts...)
}

func TestEmailNotifierSendWithMockSMTP(t *testing.T) {
	server := newMockSMTPServer(t)
	defer server.close()

	host, portStr, _ := net.SplitHostPort(server.addr())
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("bad port %q: %v", portStr, err)
	}

	notifier, err := NewEmailNotifier(EmailConfig{
		Host: host,
		Port: port,
		From: "WattMon <alerts@example.com>",
		Bcc:  []string{"audit@example.com"},
	})
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := notifier.Send(ctx, testDigest(models.SeverityWarning)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// The mock stores the message before answering the final dot, so it is
	// visible once Send returns.
	messages := server.getMessages()
	if len(messages) == 0 {
		t.Fatal("no messages received by mock server")
	}

	msgStr := string(messages[0])
	if !strings.Contains(msgStr, "Subject: [WARNING] WattMon: 1 alert for Cottage") {
		t.Errorf("message missing subject:\n%s", msgStr)
	}
	if !strings.Contains(msgStr, "To: alerts@example.com") {
		t.Error("message not addressed to the digest recipient")
	}

	rcpts := server.getRcpts()
	if len(rcpts) != 2 {
		t.Errorf("rcpts = %v, want recipient and bcc", rcpts)
	}
}

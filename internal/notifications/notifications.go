package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"github.com/shiftleft/compliance/internal/models"
	"github.com/shiftleft/compliance/internal/queue"
)

// NotificationType defines the type of notification
type NotificationType string

const (
	NotifyNewFinding  NotificationType = "new_finding"
	NotifyDailyDigest NotificationType = "daily_digest"
)

// Notification represents a notification to be sent
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Link      string
	RiskLevel models.RiskLevel
	Data      map[string]interface{}
	Timestamp time.Time
}

type Config struct {
	// MinRisk is the lowest risk level that produces an alert.
	MinRisk      models.RiskLevel
	DashboardURL string
	Slack        SlackConfig
	Email        EmailConfig
}

type SlackConfig struct {
	WebhookURL string
	Channel    string
	Username   string
	IconEmoji  string
	Enabled    bool
}

type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	To       []string
	Enabled  bool
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service sends finding alerts and digests to Slack and email.
type Service struct {
	config   Config
	logger   *slog.Logger
	client   *http.Client
	sendMail sendMailFunc
}

func NewService(config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MinRisk == "" {
		config.MinRisk = models.RiskHigh
	}
	if config.Slack.Username == "" {
		config.Slack.Username = "Compliance Alerts"
	}

	return &Service{
		config:   config,
		logger:   logger,
		client:   &http.Client{Timeout: 10 * time.Second},
		sendMail: smtp.SendMail,
	}
}

// Enabled reports whether any channel is configured.
func (s *Service) Enabled() bool {
	return s.config.Slack.Enabled || s.config.Email.Enabled
}

// Send sends a notification to all enabled channels
func (s *Service) Send(ctx context.Context, notif *Notification) error {
	var errs []error

	if s.config.Slack.Enabled {
		if err := s.sendSlack(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}

	if s.config.Email.Enabled {
		if err := s.sendEmail(notif); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	return errors.Join(errs...)
}

// ShouldNotify reports whether risk meets the configured minimum.
func (s *Service) ShouldNotify(risk models.RiskLevel) bool {
	return risk.Valid() && models.RiskRank(risk) <= models.RiskRank(s.config.MinRisk)
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (s *Service) sendSlack(ctx context.Context, notif *Notification) error {
	msg := SlackMessage{
		Channel:   s.config.Slack.Channel,
		Username:  s.config.Slack.Username,
		IconEmoji: s.config.Slack.IconEmoji,
		Attachments: []SlackAttachment{
			{
				Color:     riskToColor(notif.RiskLevel),
				Title:     notif.Title,
				TitleLink: notif.Link,
				Text:      notif.Message,
				Fallback:  fmt.Sprintf("%s: %s", notif.Title, notif.Message),
				Fields:    slackFields(notif.Data),
				Footer:    "Compliance Findings",
				Timestamp: notif.Timestamp.Unix(),
			},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Slack.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack notification sent",
		"type", notif.Type,
		"title", notif.Title)

	return nil
}

// slackFields renders Data as short fields in a stable order.
func slackFields(data map[string]interface{}) []SlackField {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]SlackField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, SlackField{
			Title: fieldTitle(k),
			Value: fmt.Sprint(data[k]),
			Short: true,
		})
	}
	return fields
}

// fieldTitle turns "control_id" into "Control Id".
func fieldTitle(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func riskToColor(risk models.RiskLevel) string {
	switch risk {
	case models.RiskHigh:
		return "#FF0000"
	case models.RiskMedium:
		return "#FFA500"
	case models.RiskLow:
		return "#FFFF00"
	default:
		return "#36A64F"
	}
}

func (s *Service) sendEmail(notif *Notification) error {
	subject := fmt.Sprintf("[Compliance] %s", notif.Title)
	body, err := formatEmailBody(notif)
	if err != nil {
		return err
	}

	msg := s.buildEmailMessage(subject, body)

	var auth smtp.Auth
	if s.config.Email.Username != "" {
		auth = smtp.PlainAuth("", s.config.Email.Username, s.config.Email.Password, s.config.Email.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)

	if err := s.sendMail(addr, auth, s.config.Email.From, s.config.Email.To, []byte(msg)); err != nil {
		return err
	}

	s.logger.Info("email notification sent",
		"type", notif.Type,
		"title", notif.Title,
		"recipients", len(s.config.Email.To))

	return nil
}

func (s *Service) buildEmailMessage(subject, body string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.Email.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(s.config.Email.To, ",")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

var emailTemplate = template.Must(template.New("email").Parse(`
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 600px; margin: 0 auto; background: white; border-radius: 8px; }
        .header { padding: 20px; background: {{.Color}}; color: white; border-radius: 8px 8px 0 0; }
        .content { padding: 20px; }
        .data-table { width: 100%; border-collapse: collapse; margin-top: 15px; }
        .data-table td { padding: 8px; border-bottom: 1px solid #eee; }
        .footer { padding: 15px 20px; background: #f9f9f9; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header"><h2 style="margin:0;">{{.Title}}</h2></div>
        <div class="content">
            <p>{{.Message}}</p>
            {{if .Risk}}<p>Risk level: <strong>{{.Risk}}</strong></p>{{end}}
            {{if .Data}}
            <table class="data-table">
                {{range $key, $value := .Data}}
                <tr><td>{{$key}}</td><td>{{$value}}</td></tr>
                {{end}}
            </table>
            {{end}}
            {{if .Link}}<p><a href="{{.Link}}">Open in dashboard</a></p>{{end}}
        </div>
        <div class="footer">Generated at {{.Timestamp}}</div>
    </div>
</body>
</html>
`))

func formatEmailBody(notif *Notification) (string, error) {
	data := map[string]interface{}{
		"Title":     notif.Title,
		"Message":   notif.Message,
		"Risk":      string(notif.RiskLevel),
		"Color":     riskToColor(notif.RiskLevel),
		"Data":      notif.Data,
		"Link":      notif.Link,
		"Timestamp": notif.Timestamp.Format(time.RFC1123),
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *Service) findingLink(id int64) string {
	if s.config.DashboardURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/findings/%d", strings.TrimRight(s.config.DashboardURL, "/"), id)
}

// NotifyNewFinding alerts on a newly created finding. Findings below the
// configured minimum risk are skipped and report false, as is every finding
// when no channel is enabled.
func (s *Service) NotifyNewFinding(ctx context.Context, finding *models.Finding) (bool, error) {
	if !s.Enabled() || !s.ShouldNotify(finding.RiskLevel) {
		return false, nil
	}

	data := map[string]interface{}{
		"finding_id": finding.ID,
		"source":     string(finding.Source),
		"risk_level": string(finding.RiskLevel),
	}
	if finding.ControlID != nil {
		data["control_id"] = *finding.ControlID
	}

	notif := &Notification{
		Type:      NotifyNewFinding,
		Title:     fmt.Sprintf("New %s risk finding", finding.RiskLevel),
		Message:   finding.Summary,
		Link:      s.findingLink(finding.ID),
		RiskLevel: finding.RiskLevel,
		Data:      data,
		Timestamp: finding.Timestamp,
	}
	return true, s.Send(ctx, notif)
}

// HandleDispatch lets the service consume the dispatch queue directly.
func (s *Service) HandleDispatch(ctx context.Context, event *queue.DispatchEvent) error {
	sent, err := s.NotifyNewFinding(ctx, &event.Finding)
	if err != nil {
		return err
	}
	if !sent {
		s.logger.Debug("finding below alert threshold",
			"finding_id", event.Finding.ID,
			"risk_level", event.Finding.RiskLevel)
	}
	return nil
}

var _ queue.Handler = (*Service)(nil)

// DigestStats holds the figures reported by the daily digest.
type DigestStats struct {
	Period           string
	NewFindings      int
	OpenFindings     int
	ResolvedFindings int
	ResolutionRate   int
	ComplianceScore  float64
	FailingControls  int
	TopControls      []string
}

// NotifyDailyDigest sends a daily digest notification
func (s *Service) NotifyDailyDigest(ctx context.Context, stats DigestStats) error {
	data := map[string]interface{}{
		"period":            stats.Period,
		"new_findings":      stats.NewFindings,
		"open_findings":     stats.OpenFindings,
		"resolved_findings": stats.ResolvedFindings,
		"resolution_rate":   fmt.Sprintf("%d%%", stats.ResolutionRate),
		"compliance_score":  fmt.Sprintf("%.1f%%", stats.ComplianceScore),
		"failing_controls":  stats.FailingControls,
	}
	if len(stats.TopControls) > 0 {
		data["top_controls"] = strings.Join(stats.TopControls, ", ")
	}

	notif := &Notification{
		Type:      NotifyDailyDigest,
		Title:     "Daily Compliance Digest",
		Message:   fmt.Sprintf("%d new findings, %d open, compliance score %.1f%%", stats.NewFindings, stats.OpenFindings, stats.ComplianceScore),
		Link:      s.config.DashboardURL,
		RiskLevel: digestRisk(stats),
		Data:      data,
		Timestamp: time.Now(),
	}
	return s.Send(ctx, notif)
}

func digestRisk(stats DigestStats) models.RiskLevel {
	switch {
	case stats.FailingControls > 0 && stats.ComplianceScore < 80:
		return models.RiskHigh
	case stats.NewFindings > 10:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

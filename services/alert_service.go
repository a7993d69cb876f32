package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/QACrew/qa-assistant-backend/config"
	"github.com/QACrew/qa-assistant-backend/logger"
	"github.com/QACrew/qa-assistant-backend/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// slackPoster abstracts the Slack client so tests can substitute a fake.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// AlertService formats and delivers Slack notifications: health alerts for
// endpoints that stop responding, per-run test results and the daily summary.
// When Slack is disabled in the config every send becomes a logged no-op.
type AlertService struct {
	client  slackPoster
	cfg     config.SlackConfig
	log     *zap.SugaredLogger
	metrics *alertMetrics
	now     func() time.Time
}

type alertMetrics struct {
	sendLatency prometheus.Histogram
	errorCount  prometheus.Counter
	sentCount   *prometheus.CounterVec
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	alertMetricsInstance *alertMetrics
	alertMetricsOnce     sync.Once
	alertDefaultRegistry = prometheus.DefaultRegisterer
)

func newAlertMetrics() *alertMetrics {
	alertMetricsOnce.Do(func() {
		alertMetricsInstance = &alertMetrics{
			sendLatency: promauto.With(alertDefaultRegistry).NewHistogram(prometheus.HistogramOpts{
				Name:    "qa_assistant_alert_send_duration_seconds",
				Help:    "Time taken to deliver Slack messages",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
			}),
			errorCount: promauto.With(alertDefaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "qa_assistant_alert_errors_total",
				Help: "Total number of Slack delivery errors",
			}),
			sentCount: promauto.With(alertDefaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "qa_assistant_alerts_sent_total",
				Help: "Total number of Slack messages sent by kind",
			}, []string{"kind"}),
		}
	})
	return alertMetricsInstance
}

// resetAlertMetricsForTesting resets the metrics singleton for test isolation.
// This should only be called from tests.
func resetAlertMetricsForTesting() {
	alertDefaultRegistry = prometheus.NewRegistry()
	alertMetricsInstance = nil
	alertMetricsOnce = sync.Once{}
}

// NewAlertService creates the Slack alert sender. The client is nil when
// Slack is disabled; sends then log and return without error.
func NewAlertService(cfg config.SlackConfig) *AlertService {
	log := logger.GetLogger().Named("alerts")

	var client slackPoster
	if cfg.Enabled {
		log.Infow("Initializing Slack alerting",
			"alertChannel", cfg.AlertChannel,
			"summaryChannel", cfg.SummaryChannel,
			"token", logger.MaskToken(cfg.BotToken))
		client = slack.New(cfg.BotToken)
	} else {
		log.Info("Slack alerting disabled")
	}

	return &AlertService{
		client:  client,
		cfg:     cfg,
		log:     log,
		metrics: newAlertMetrics(),
		now:     time.Now,
	}
}

// Enabled reports whether messages are actually delivered.
func (s *AlertService) Enabled() bool {
	return s.cfg.Enabled && s.client != nil
}

// SendHealthAlert posts an endpoint alert to the alert channel. Callers are
// expected to pass only non-healthy results.
func (s *AlertService) SendHealthAlert(ctx context.Context, result types.HealthCheckResult) error {
	issue := result.ErrorMessage
	if issue == "" {
		issue = string(result.Status)
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(plainText(":warning: API Health Alert")),
		fieldsSection(
			fmt.Sprintf("*Endpoint:* %s", result.EndpointName),
			fmt.Sprintf("*URL:* %s", result.URL),
			fmt.Sprintf("*Issue:* %s", issue),
			fmt.Sprintf("*Time:* %s", s.now().Format("2006-01-02 15:04:05")),
		),
	}

	return s.post(ctx, "health_alert", s.cfg.AlertChannel, "API Health Alert", blocks)
}

// SendTestRunResults posts the outcome of one test run to the alert channel.
func (s *AlertService) SendTestRunResults(ctx context.Context, summary types.TestRunSummary) error {
	emoji := ":white_check_mark:"
	if summary.Failed > 0 {
		emoji = ":x:"
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(plainText(fmt.Sprintf("%s %s Test Results",
			emoji, strings.ToUpper(string(summary.Type))))),
		fieldsSection(
			fmt.Sprintf("*Total:* %d", summary.Total),
			fmt.Sprintf("*Passed:* %d", summary.Passed),
			fmt.Sprintf("*Failed:* %d", summary.Failed),
			fmt.Sprintf("*Duration:* %.2fs", summary.Duration),
		),
	}

	if summary.ReportURL != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			markdownText(fmt.Sprintf("<%s|View Detailed Report>", summary.ReportURL)), nil, nil))
	}

	text := fmt.Sprintf("%s test results", strings.ToUpper(string(summary.Type)))
	return s.post(ctx, "test_results", s.cfg.AlertChannel, text, blocks)
}

// SendDailySummary posts the aggregated daily report to the summary channel.
// Missing suites count as zero.
func (s *AlertService) SendDailySummary(ctx context.Context, combined types.CombinedSummary) error {
	var api, ui types.TestRunSummary
	if combined.APITests != nil {
		api = *combined.APITests
	}
	if combined.UITests != nil {
		ui = *combined.UITests
	}

	totalPassed := api.Passed + ui.Passed
	totalTests := api.Total + ui.Total
	successRate := 0.0
	if totalTests > 0 {
		successRate = float64(totalPassed) / float64(totalTests) * 100
	}

	emoji := ":x:"
	switch {
	case successRate >= 90:
		emoji = ":white_check_mark:"
	case successRate >= 70:
		emoji = ":warning:"
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(plainText(fmt.Sprintf("%s Daily Test Summary - %s",
			emoji, s.now().Format("2006-01-02")))),
		fieldsSection(
			fmt.Sprintf("*API Tests:* %d/%d", api.Passed, api.Total),
			fmt.Sprintf("*UI Tests:* %d/%d", ui.Passed, ui.Total),
			fmt.Sprintf("*Success Rate:* %.1f%%", successRate),
			fmt.Sprintf("*Total Duration:* %.1fs", api.Duration+ui.Duration),
		),
	}

	return s.post(ctx, "daily_summary", s.cfg.SummaryChannel, "Daily Test Summary", blocks)
}

func (s *AlertService) post(ctx context.Context, kind, channel, text string, blocks []slack.Block) error {
	if !s.Enabled() {
		s.log.Debugw("Slack disabled, skipping message", "kind", kind, "channel", channel)
		return nil
	}

	startTime := time.Now()
	defer func() {
		s.metrics.sendLatency.Observe(time.Since(startTime).Seconds())
	}()

	_, _, err := s.client.PostMessageContext(ctx, channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...))
	if err != nil {
		s.metrics.errorCount.Inc()
		s.log.Errorw("Failed to send Slack message",
			"kind", kind,
			"channel", channel,
			"error", err)
		return fmt.Errorf("slack send failed: %w", err)
	}

	s.metrics.sentCount.WithLabelValues(kind).Inc()
	s.log.Infow("Slack message sent", "kind", kind, "channel", channel)
	return nil
}

func plainText(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, true, false)
}

func markdownText(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

func fieldsSection(fields ...string) *slack.SectionBlock {
	objs := make([]*slack.TextBlockObject, len(fields))
	for i, f := range fields {
		objs[i] = markdownText(f)
	}
	return slack.NewSectionBlock(nil, objs, nil)
}

// Package safety classifies chat text into a risk verdict before it may be
// persisted or broadcast. A deterministic phrase matcher runs first; only
// ambiguous (medium-risk) input is escalated to a slower secondary
// classifier.
package safety

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meghan/community-chat/internal/metrics"
)

// Level is a risk verdict.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelLow:
		return LevelLow, nil
	case LevelMedium:
		return LevelMedium, nil
	case LevelHigh:
		return LevelHigh, nil
	default:
		return "", fmt.Errorf("safety: unknown risk level %q", s)
	}
}

// FailurePolicy decides the verdict when the secondary classifier cannot
// answer for medium-risk input.
type FailurePolicy string

const (
	// FailOpen downgrades to low and lets the message through, keeping the
	// medium matches as evidence.
	FailOpen FailurePolicy = "open"
	// FailClosed treats the message as a confirmed medium risk and blocks it.
	FailClosed FailurePolicy = "closed"
)

// SafeReply is sent privately to the author of a blocked message.
const SafeReply = "I’m really sorry you’re feeling this way. You don’t have to go through this alone.\n\n" +
	"If you are in immediate danger or might act on these thoughts, please contact local emergency services now.\n\n" +
	"If you can, reach out to someone you trust right now (friend/family/mentor).\n\n" +
	"If you tell me your country, I can share crisis hotline resources for your area. " +
	"Are you safe right now?"

// Verdict is the outcome of Assess.
type Verdict struct {
	Allowed   bool     `json:"allowed"`
	Level     Level    `json:"risk_level"`
	Matched   []string `json:"matched_phrases"`
	SafeReply string   `json:"safe_reply,omitempty"`

	// Degraded is set when the secondary classifier failed and the
	// failure policy produced the verdict.
	Degraded bool `json:"-"`
}

// Config holds classifier settings.
type Config struct {
	FailurePolicy    FailurePolicy
	SecondaryTimeout time.Duration
	HighRisk         []string
	MediumRisk       []string
	SafeReply        string
}

// DefaultConfig returns the built-in phrase tables with a fail-open policy.
func DefaultConfig() Config {
	return Config{
		FailurePolicy:    FailOpen,
		SecondaryTimeout: 3 * time.Second,
		HighRisk:         HighRiskPhrases,
		MediumRisk:       MediumRiskPhrases,
		SafeReply:        SafeReply,
	}
}

// Classifier implements the two-stage risk assessment. It holds no mutable
// state and is safe for concurrent use.
type Classifier struct {
	high      *matcher
	medium    *matcher
	secondary SecondaryClassifier
	cfg       Config
	log       logrus.FieldLogger
}

// NewClassifier builds the phrase matchers. secondary may be nil, in which
// case medium-risk input is resolved by the failure policy.
func NewClassifier(cfg Config, secondary SecondaryClassifier, log logrus.FieldLogger) (*Classifier, error) {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	switch cfg.FailurePolicy {
	case FailOpen, FailClosed:
	case "":
		cfg.FailurePolicy = FailOpen
	default:
		return nil, fmt.Errorf("safety: unknown failure policy %q", cfg.FailurePolicy)
	}
	if cfg.SafeReply == "" {
		cfg.SafeReply = SafeReply
	}

	high, err := newMatcher(cfg.HighRisk)
	if err != nil {
		return nil, err
	}
	medium, err := newMatcher(cfg.MediumRisk)
	if err != nil {
		return nil, err
	}

	log = log.WithField("component", "safety")
	if cfg.FailurePolicy == FailOpen {
		log.Warn("secondary classifier failures fail open: medium-risk messages pass when it is unavailable")
	}

	return &Classifier{
		high:      high,
		medium:    medium,
		secondary: secondary,
		cfg:       cfg,
		log:       log,
	}, nil
}

// Policy returns the configured failure policy.
func (c *Classifier) Policy() FailurePolicy { return c.cfg.FailurePolicy }

// Assess classifies text. It never returns an error: secondary classifier
// failures are resolved by the failure policy and reported via
// Verdict.Degraded.
func (c *Classifier) Assess(ctx context.Context, text string) Verdict {
	start := time.Now()
	normalized := normalize(text)

	if matched := c.high.match(normalized); len(matched) > 0 {
		return c.finish("pattern", start, c.block(LevelHigh, matched))
	}

	matched := c.medium.match(normalized)
	if len(matched) == 0 {
		return c.finish("pattern", start, Verdict{Allowed: true, Level: LevelLow, Matched: []string{}})
	}

	level, err := c.escalate(ctx, text)
	if err != nil {
		metrics.SecondaryFailures.WithLabelValues(string(c.cfg.FailurePolicy)).Inc()
		c.log.WithError(err).WithFields(logrus.Fields{
			"policy":  c.cfg.FailurePolicy,
			"matched": matched,
		}).Warn("secondary classifier unavailable, applying failure policy")

		v := Verdict{Allowed: true, Level: LevelLow, Matched: matched}
		if c.cfg.FailurePolicy == FailClosed {
			v = c.block(LevelMedium, matched)
		}
		v.Degraded = true
		return c.finish("fallback", start, v)
	}

	switch level {
	case LevelHigh, LevelMedium:
		return c.finish("secondary", start, c.block(level, matched))
	default:
		return c.finish("secondary", start, Verdict{Allowed: true, Level: LevelLow, Matched: matched})
	}
}

func (c *Classifier) escalate(ctx context.Context, text string) (Level, error) {
	if c.secondary == nil {
		return "", fmt.Errorf("safety: no secondary classifier configured")
	}
	if c.cfg.SecondaryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SecondaryTimeout)
		defer cancel()
	}
	level, err := c.secondary.Classify(ctx, text)
	if err != nil {
		return "", err
	}
	return ParseLevel(string(level))
}

func (c *Classifier) block(level Level, matched []string) Verdict {
	return Verdict{
		Allowed:   false,
		Level:     level,
		Matched:   matched,
		SafeReply: c.cfg.SafeReply,
	}
}

func (c *Classifier) finish(stage string, start time.Time, v Verdict) Verdict {
	metrics.ClassifierDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	metrics.ClassifierVerdicts.WithLabelValues(string(v.Level)).Inc()
	return v
}

// RecommendedAction returns operator guidance for a risk level.
func RecommendedAction(level Level) string {
	switch level {
	case LevelHigh:
		return "Immediate professional intervention required. Contact emergency services or crisis hotline."
	case LevelMedium:
		return "Consider reaching out to a mental health professional or trusted support person."
	default:
		return "Continue monitoring. Consider self-care activities."
	}
}

// Package sms provides SMS delivery for escalation contacts.
package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"golang.org/x/time/rate"
)

const (
	defaultRateLimit = 1.0
	defaultSMSType   = "Transactional"
	maxMessageLength = 1600
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// ErrInvalidPhone is returned for numbers not in E.164 format.
var ErrInvalidPhone = errors.New("phone number must be in E.164 format")

// Publisher is the subset of the SNS client used for SMS.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds SMS sender configuration.
type Config struct {
	Enabled   bool
	SenderID  string
	SMSType   string // Transactional or Promotional
	RateLimit float64
}

// Sender sends SMS through Amazon SNS.
type Sender struct {
	config    Config
	publisher Publisher
	limiter   *rate.Limiter
}

// NewSender creates a new SMS sender. publisher may be nil when disabled.
func NewSender(config Config, publisher Publisher) (*Sender, error) {
	if config.Enabled && publisher == nil {
		return nil, errors.New("sms sender: publisher is required when enabled")
	}
	if config.SMSType == "" {
		config.SMSType = defaultSMSType
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}

	slog.Info("sms sender configured",
		"enabled", config.Enabled,
		"sms_type", config.SMSType,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:    config,
		publisher: publisher,
		limiter:   rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// Send sends text to phone. A disabled sender only logs the message.
func (s *Sender) Send(ctx context.Context, phone, text string) error {
	if !s.config.Enabled {
		slog.Info("sms sender disabled, skipping",
			"to", maskPhone(phone),
			"length", len(text),
		)
		return nil
	}

	if !e164.MatchString(phone) {
		return fmt.Errorf("%w: %s", ErrInvalidPhone, maskPhone(phone))
	}
	if len(text) > maxMessageLength {
		text = text[:maxMessageLength]
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(text),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(s.config.SMSType),
			},
		},
	}
	if s.config.SenderID != "" {
		input.MessageAttributes["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.config.SenderID),
		}
	}

	out, err := s.publisher.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}

	slog.Info("sms sent",
		"to", maskPhone(phone),
		"message_id", aws.ToString(out.MessageId),
	)
	return nil
}

// maskPhone keeps the last four digits.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}

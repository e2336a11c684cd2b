// Package msgpublisher hands notification inputs to the delivery
// pipeline. Rendering and delivery happen in an external daemon.
package msgpublisher

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-kit/kit/log"

	auth "github.com/castellan/castellan"
)

// service is an implementation of auth.MessagingService.
type service struct {
	logger      log.Logger
	messageRepo auth.MessageRepository
	expireAfter time.Duration
}

// Send publishes a message to the notification topic with everything
// the delivery daemon needs.
func (s *service) Send(ctx context.Context, msg *auth.Message) error {
	if _, err := mail.ParseAddress(msg.Address); err != nil {
		return fmt.Errorf("invalid delivery address: %w", err)
	}
	if msg.Template == "" {
		return fmt.Errorf("message template is required")
	}

	if msg.ExpiresAt.IsZero() {
		msg.ExpiresAt = time.Now().Add(s.expireAfter)
	}

	if err := s.messageRepo.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to repository: %w", err)
	}

	return nil
}

// README: Assistant service: persistent sessions around the Gemini call.
package assistant

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrBadRequest          = errors.New("assistant: bad request")
	ErrUpstreamUnavailable = errors.New("assistant: model unavailable")
)

type Service struct {
	store  *Store
	apiKey string
	log    zerolog.Logger
}

func NewService(store *Store, apiKey string, log zerolog.Logger) *Service {
	return &Service{store: store, apiKey: apiKey, log: log.With().Str("module", "assistant").Logger()}
}

type Reply struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

// Chat appends the user's message to the session, asks the model, and
// persists the updated transcript. An empty session id starts a new
// conversation.
func (s *Service) Chat(ctx context.Context, sessionID, message string) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrBadRequest
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	answer, err := callGemini(ctx, s.apiKey, sess.Turns, message)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("gemini call failed")
		return nil, ErrUpstreamUnavailable
	}

	sess.Turns = append(sess.Turns,
		Turn{Role: "user", Content: message},
		Turn{Role: "model", Content: answer},
	)
	if err := s.store.Save(ctx, sess); err != nil {
		// The reply stands even if the transcript write fails.
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("session save failed")
	}
	return &Reply{SessionID: sessionID, Answer: answer}, nil
}

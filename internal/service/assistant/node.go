package assistant

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"userchat/internal/metrics"
	"userchat/internal/models"
)

const databaseReplyLabel = "Here are the users from the database:\n"

var (
	ErrNilState   = errors.New("state cannot be nil")
	ErrNoReply    = errors.New("chat model returned no message")
	databaseWords = []string{"database", "users"}
)

// ChatModel is the part of an eino chat model the node calls.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// UserLookup dumps the user table.
type UserLookup interface {
	GetAllUsers(ctx context.Context) []models.Row
}

// ChatNode is the single processing step of the workflow.
type ChatNode struct {
	users    UserLookup
	chat     ChatModel
	dbLookup bool
	log      zerolog.Logger
}

type NodeOption func(*ChatNode)

// WithDatabaseLookup toggles the keyword branch. Disabled, every turn goes
// to the chat model.
func WithDatabaseLookup(enabled bool) NodeOption {
	return func(n *ChatNode) {
		n.dbLookup = enabled
	}
}

func WithLogger(log zerolog.Logger) NodeOption {
	return func(n *ChatNode) {
		n.log = log
	}
}

// NewChatNode wires the node's two collaborators. users may be nil only when
// database lookup is disabled.
func NewChatNode(users UserLookup, chat ChatModel, opts ...NodeOption) (*ChatNode, error) {
	n := &ChatNode{
		users:    users,
		chat:     chat,
		dbLookup: true,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.chat == nil {
		return nil, errors.New("chat model is required")
	}
	if n.dbLookup && n.users == nil {
		return nil, errors.New("user lookup is required when database lookup is enabled")
	}
	n.log = n.log.With().Str("component", "chat-node").Logger()
	return n, nil
}

// Run answers state.CurrentMessage and returns the transcript with the
// user message and the reply appended. state is left untouched.
func (n *ChatNode) Run(ctx context.Context, state *models.State) (*models.Delta, error) {
	if state == nil {
		return nil, ErrNilState
	}
	cfg, err := ResolveConfigurable(ConfigurableFromContext(ctx))
	if err != nil {
		n.log.Warn().Err(err).Msg("ignoring undecodable configurable values")
	}

	var (
		reply  string
		branch string
	)
	if n.dbLookup && mentionsDatabase(state.CurrentMessage) {
		branch = metrics.BranchDatabase
		reply = databaseReplyLabel + renderRows(n.users.GetAllUsers(ctx))
	} else {
		branch = metrics.BranchChat
		reply, err = n.complete(ctx, cfg, state)
		if err != nil {
			metrics.WorkflowInvocations.WithLabelValues(branch, metrics.StatusError).Inc()
			return nil, err
		}
	}
	metrics.WorkflowInvocations.WithLabelValues(branch, metrics.StatusOK).Inc()
	n.log.Debug().Str("branch", branch).Int("history", len(state.Messages)).Msg("turn answered")

	messages := slices.Grow(slices.Clone(state.Messages), 2)
	messages = append(messages,
		models.UserMessage(state.CurrentMessage),
		models.AssistantMessage(reply),
	)
	return &models.Delta{Messages: messages}, nil
}

func (n *ChatNode) complete(ctx context.Context, cfg Configuration, state *models.State) (string, error) {
	input := n.promptMessages(cfg.SystemMessage, state.Messages, state.CurrentMessage)

	start := time.Now()
	resp, err := n.chat.Generate(ctx, input,
		model.WithModel(cfg.ModelName),
		model.WithTemperature(float32(cfg.Temperature)),
	)
	metrics.CompletionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if resp == nil {
		return "", ErrNoReply
	}
	return resp.Content, nil
}

// promptMessages builds system prompt + history + new user message. History
// entries with roles other than user/assistant are left out of the prompt.
func (n *ChatNode) promptMessages(system string, history []models.Message, current string) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(system))
	for i, msg := range history {
		switch msg.Role {
		case models.RoleUser:
			messages = append(messages, schema.UserMessage(msg.Content))
		case models.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(msg.Content, nil))
		default:
			n.log.Warn().Int("index", i).Str("role", string(msg.Role)).Msg("skipping history entry with unknown role")
		}
	}
	return append(messages, schema.UserMessage(current))
}

func mentionsDatabase(text string) bool {
	lower := strings.ToLower(text)
	for _, word := range databaseWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

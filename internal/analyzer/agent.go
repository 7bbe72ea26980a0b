package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/agent-api/core/pkg/agent"
	"github.com/agent-api/core/types"
	"github.com/agent-api/ollama"

	"github.com/bdougie/framesearch/internal/extractor"
	"github.com/bdougie/framesearch/internal/models"
	"github.com/bdougie/framesearch/internal/storage"
)

const systemPrompt = "You are a visual analysis assistant specialized in detailed image descriptions " +
	"of screen recordings and meetings. Describe the people, on-screen content, applications, " +
	"diagrams and any visible activity."

const describePrompt = "What is happening in this image? Be specific and detailed. " +
	"List and describe the items shown in the frame."

// AgentConfig selects the Ollama endpoint and vision model.
type AgentConfig struct {
	BaseURL string
	Port    int
	Model   string
}

// AgentDescriber describes frames with a vision model served by Ollama.
type AgentDescriber struct {
	conf   agent.NewAgentConfig
	store  storage.ObjectStore
	logger *slog.Logger
}

// NewAgentDescriber connects to Ollama and selects the vision model.
func NewAgentDescriber(ctx context.Context, cfg AgentConfig, store storage.ObjectStore, logger *slog.Logger) (*AgentDescriber, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Check if Ollama is running
	if err := ping(ctx, fmt.Sprintf("%s:%d/api/tags", cfg.BaseURL, cfg.Port)); err != nil {
		return nil, fmt.Errorf("ollama is not reachable: %w", err)
	}

	provider := ollama.NewProvider(&ollama.ProviderOpts{
		Logger:  logger,
		BaseURL: cfg.BaseURL,
		Port:    cfg.Port,
	})
	provider.UseModel(ctx, &types.Model{ID: cfg.Model})

	return &AgentDescriber{
		conf: agent.NewAgentConfig{
			Provider:     provider,
			Logger:       logger,
			SystemPrompt: systemPrompt,
		},
		store:  store,
		logger: logger,
	}, nil
}

// Describe implements Describer. Each call gets its own agent so concurrent
// frames never share conversation memory.
func (d *AgentDescriber) Describe(ctx context.Context, frame models.Frame) (string, error) {
	image, err := d.store.Get(ctx, extractor.FrameKey(frame.RecordingID, frame.FrameNumber))
	if err != nil {
		return "", fmt.Errorf("failed to load frame image: %w", err)
	}

	dir, err := os.MkdirTemp("", "describe-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	imagePath := filepath.Join(dir, fmt.Sprintf("frame_%04d.jpg", frame.FrameNumber))
	if err := os.WriteFile(imagePath, image, 0644); err != nil {
		return "", err
	}

	conf := d.conf
	a := agent.NewAgent(&conf)

	response := a.Run(
		ctx,
		agent.WithInput(describePrompt),
		agent.WithImagePath(imagePath),
	)
	if response.Err != nil {
		return "", response.Err
	}
	if len(response.Messages) == 0 {
		return "", fmt.Errorf("no response messages received from model")
	}

	// The last message is the model's answer, not the prompt.
	content := response.Messages[len(response.Messages)-1].Content
	d.logger.Debug("frame described",
		"recording_id", frame.RecordingID,
		"frame_number", frame.FrameNumber,
		"chars", len(content))
	return content, nil
}

func ping(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

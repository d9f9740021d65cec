package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"
)

const agentName = "study_planner"

// Generator turns a prompt into the model's text answer.
type Generator interface {
	Generate(ctx context.Context, userID, prompt string) (string, error)
}

func GetAgent(llm model.LLM, cfg Config) (agent.Agent, error) {
	customAgent, err := llmagent.New(llmagent.Config{
		Name:        agentName,
		Model:       llm,
		Description: "Create day-by-day study schedules",
		Instruction: instruction(),
		GenerateContentConfig: &genai.GenerateContentConfig{
			Temperature: genai.Ptr(float32(cfg.Temperature)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	return customAgent, nil
}

type agentGenerator struct {
	appName  string
	runner   *runner.Runner
	sessions session.Service
	attempts int
}

// NewAgentGenerator wires the Gemini agent into an ADK runner backed by an
// in-memory session service.
func NewAgentGenerator(ctx context.Context, cfg Config) (Generator, error) {
	llm, err := gemini.NewModel(ctx, cfg.Model, &genai.ClientConfig{
		APIKey: cfg.GoogleAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}
	return newAgentGenerator(llm, cfg)
}

func newAgentGenerator(llm model.LLM, cfg Config) (*agentGenerator, error) {
	planner, err := GetAgent(llm, cfg)
	if err != nil {
		return nil, err
	}

	inMemoryService := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:        planner.Name(),
		Agent:          planner,
		SessionService: inMemoryService,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	return &agentGenerator{
		appName:  planner.Name(),
		runner:   r,
		sessions: inMemoryService,
		attempts: 1 + cfg.MaxRetries,
	}, nil
}

func (g *agentGenerator) Generate(ctx context.Context, userID, prompt string) (string, error) {
	return retry(ctx, g.attempts, func() (string, error) {
		return g.runOnce(ctx, userID, prompt)
	})
}

// runOnce uses a fresh session per attempt so a failed try leaves no history
// behind for the next one.
func (g *agentGenerator) runOnce(ctx context.Context, userID, prompt string) (string, error) {
	created, err := g.sessions.Create(ctx, &session.CreateRequest{
		AppName:   g.appName,
		UserID:    userID,
		SessionID: uuid.NewString(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	sess := created.Session
	defer func() {
		_ = g.sessions.Delete(context.WithoutCancel(ctx), &session.DeleteRequest{
			AppName:   sess.AppName(),
			UserID:    sess.UserID(),
			SessionID: sess.ID(),
		})
	}()

	stream := g.runner.Run(ctx, sess.UserID(), sess.ID(), genai.NewContentFromText(prompt, genai.RoleUser), agent.RunConfig{})

	var output string
	for event, err := range stream {
		if err != nil {
			return "", err
		}
		if event == nil || !event.IsFinalResponse() || event.Content == nil {
			continue
		}
		var b strings.Builder
		for _, part := range event.Content.Parts {
			if part != nil {
				b.WriteString(part.Text)
			}
		}
		if b.Len() > 0 {
			output = b.String()
		}
	}

	if strings.TrimSpace(output) == "" {
		return "", ErrEmptyResponse
	}
	return output, nil
}

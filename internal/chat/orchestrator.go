package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUpstream indicates the language model or search backend failed.
var ErrUpstream = errors.New("chat: upstream failure")

var noOpLogger = zap.NewNop()

// Intent names the route chosen for a message.
type Intent string

const (
	IntentKnowledgeBase      Intent = "knowledge_base_search"
	IntentGeneralSearch      Intent = "general_search"
	IntentRecommendChallenge Intent = "recommend_challenge"
	IntentDirectAnswer       Intent = "direct_answer"
)

// Generator produces one completion for one prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Searcher answers a query with web hits.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// TipSource answers a query from the curated knowledge base.
type TipSource interface {
	Search(ctx context.Context, query string, limit int) ([]EcoTip, error)
}

// ChallengeIdea is a challenge suggestion extracted from a model response.
type ChallengeIdea struct {
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	Reward           string  `json:"reward"`
	TargetMode       string  `json:"target_mode"`
	TargetSavedG     float64 `json:"target_saved_g"`
	TargetDistanceKM float64 `json:"target_distance_km"`
}

// ChallengeCreator turns an accepted idea into a joined challenge.
type ChallengeCreator interface {
	CreateFromIdea(ctx context.Context, userID uint64, idea ChallengeIdea) (uint64, error)
}

// Reply is the chatbot's answer to one message.
type Reply struct {
	Intent             Intent         `json:"intent"`
	Message            string         `json:"message"`
	Sources            []SearchResult `json:"sources,omitempty"`
	SuggestedChallenge *ChallengeIdea `json:"suggested_challenge,omitempty"`
	CreatedChallengeID uint64         `json:"created_challenge_id,omitempty"`
	AnsweredAt         time.Time      `json:"answered_at"`
}

// OrchestratorConfig describes the dependencies of the chatbot router.
type OrchestratorConfig struct {
	Generator  Generator
	Searcher   Searcher
	Tips       TipSource
	Challenges ChallengeCreator
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Orchestrator routes each message through an intent classification prompt
// and then answers via the knowledge base, web search, challenge suggestion
// or direct generation. Searcher and Challenges are optional; missing
// backends degrade to direct answers.
type Orchestrator struct {
	generator  Generator
	searcher   Searcher
	tips       TipSource
	challenges ChallengeCreator
	clock      func() time.Time
	logger     *zap.Logger
}

// NewOrchestrator constructs the chatbot router.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("chat: generator required")
	}
	if cfg.Tips == nil {
		return nil, fmt.Errorf("chat: tip source required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Orchestrator{
		generator:  cfg.Generator,
		searcher:   cfg.Searcher,
		tips:       cfg.Tips,
		challenges: cfg.Challenges,
		clock:      clock,
		logger:     logger,
	}, nil
}

const routerPromptTemplate = `You route messages for a carbon-reduction assistant.
Classify the user message into exactly one intent:
- "knowledge_base_search": eco tips, sustainability habits, green living advice
- "general_search": current facts, news, anything needing fresh information
- "recommend_challenge": the user wants a personal eco challenge to take on
- "direct_answer": greetings, app usage, anything you can answer yourself

Respond with JSON only: {"intent": "<intent>", "query": "<search query or empty>"}

User message: %s`

type routerDecision struct {
	Intent Intent `json:"intent"`
	Query  string `json:"query"`
}

var jsonPattern = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSON pulls the first JSON object out of a model response, tolerating
// markdown fences and surrounding prose.
func extractJSON(raw string, target interface{}) error {
	match := jsonPattern.FindString(raw)
	if match == "" {
		return fmt.Errorf("chat: no JSON object in response")
	}
	return json.Unmarshal([]byte(match), target)
}

// Ask answers one user message.
func (o *Orchestrator) Ask(ctx context.Context, userID uint64, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("chat: empty message")
	}

	decision := o.route(ctx, message)
	o.logger.Debug("chat message routed",
		zap.Uint64("user_id", userID),
		zap.String("intent", string(decision.Intent)))

	switch decision.Intent {
	case IntentKnowledgeBase:
		return o.answerFromKnowledgeBase(ctx, message, decision.Query)
	case IntentGeneralSearch:
		return o.answerFromWeb(ctx, message, decision.Query)
	case IntentRecommendChallenge:
		return o.recommendChallenge(ctx, userID, message)
	default:
		return o.answerDirectly(ctx, message)
	}
}

// route classifies the message. Unparseable router output falls back to a
// general search so the user still gets an answer.
func (o *Orchestrator) route(ctx context.Context, message string) routerDecision {
	raw, err := o.generator.Generate(ctx, fmt.Sprintf(routerPromptTemplate, message))
	if err != nil {
		o.logger.Warn("chat router generation failed", zap.Error(err))
		return routerDecision{Intent: IntentDirectAnswer}
	}

	var decision routerDecision
	if err := extractJSON(raw, &decision); err != nil {
		o.logger.Warn("chat router response unparseable", zap.Error(err))
		return routerDecision{Intent: IntentGeneralSearch, Query: message}
	}
	switch decision.Intent {
	case IntentKnowledgeBase, IntentGeneralSearch, IntentRecommendChallenge, IntentDirectAnswer:
	default:
		decision.Intent = IntentGeneralSearch
	}
	if decision.Query == "" {
		decision.Query = message
	}
	return decision
}

func (o *Orchestrator) answerFromKnowledgeBase(ctx context.Context, message, query string) (*Reply, error) {
	tips, err := o.tips.Search(ctx, query, 3)
	if err != nil {
		return nil, err
	}
	if len(tips) == 0 {
		// Nothing curated covers the topic; try the web instead.
		return o.answerFromWeb(ctx, message, query)
	}

	var digest strings.Builder
	for _, tip := range tips {
		fmt.Fprintf(&digest, "- %s: %s\n", tip.Title, tip.Body)
	}

	prompt := fmt.Sprintf(
		"Answer the user using only these curated eco tips. Be concise and practical.\n\nTips:\n%s\nUser message: %s",
		digest.String(), message)
	answer, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return &Reply{
		Intent:     IntentKnowledgeBase,
		Message:    answer,
		AnsweredAt: o.clock().UTC(),
	}, nil
}

func (o *Orchestrator) answerFromWeb(ctx context.Context, message, query string) (*Reply, error) {
	if o.searcher == nil {
		return o.answerDirectly(ctx, message)
	}

	results, err := o.searcher.Search(ctx, query, 5)
	if err != nil {
		o.logger.Warn("chat web search failed", zap.Error(err))
		return o.answerDirectly(ctx, message)
	}
	if len(results) == 0 {
		return o.answerDirectly(ctx, message)
	}

	var digest strings.Builder
	for _, result := range results {
		fmt.Fprintf(&digest, "- %s (%s): %s\n", result.Title, result.Link, result.Snippet)
	}

	prompt := fmt.Sprintf(
		"Answer the user from these search results. Cite nothing you did not find below.\n\nResults:\n%s\nUser message: %s",
		digest.String(), message)
	answer, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return &Reply{
		Intent:     IntentGeneralSearch,
		Message:    answer,
		Sources:    results,
		AnsweredAt: o.clock().UTC(),
	}, nil
}

const challengePromptTemplate = `Suggest one personal eco challenge for a user of a carbon-reduction app.
Transport modes available: WALK, BIKE, BUS, SUBWAY, ANY.
Respond with JSON only:
{"title": "...", "description": "...", "reward": "...", "target_mode": "...", "target_saved_g": <grams of CO2 to save, or 0>, "target_distance_km": <km to cover, or 0>}
Exactly one of target_saved_g and target_distance_km must be positive.

User message: %s`

func (o *Orchestrator) recommendChallenge(ctx context.Context, userID uint64, message string) (*Reply, error) {
	raw, err := o.generator.Generate(ctx, fmt.Sprintf(challengePromptTemplate, message))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	var idea ChallengeIdea
	if err := extractJSON(raw, &idea); err != nil || idea.Title == "" {
		o.logger.Warn("chat challenge suggestion unparseable", zap.Error(err))
		return o.answerDirectly(ctx, message)
	}

	reply := &Reply{
		Intent:             IntentRecommendChallenge,
		Message:            fmt.Sprintf("How about this: %s. %s", idea.Title, idea.Description),
		SuggestedChallenge: &idea,
		AnsweredAt:         o.clock().UTC(),
	}

	if o.challenges != nil {
		challengeID, err := o.challenges.CreateFromIdea(ctx, userID, idea)
		if err != nil {
			o.logger.Warn("chat challenge creation failed", zap.Error(err))
			return reply, nil
		}
		reply.CreatedChallengeID = challengeID
		reply.Message = fmt.Sprintf("I signed you up for a new challenge: %s. %s", idea.Title, idea.Description)
	}
	return reply, nil
}

func (o *Orchestrator) answerDirectly(ctx context.Context, message string) (*Reply, error) {
	prompt := fmt.Sprintf(
		"You are a friendly assistant in a carbon-reduction app. Answer concisely.\n\nUser message: %s",
		message)
	answer, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return &Reply{
		Intent:     IntentDirectAnswer,
		Message:    answer,
		AnsweredAt: o.clock().UTC(),
	}, nil
}

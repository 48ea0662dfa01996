package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/markdave123-py/contexta/internal/core"
	"github.com/markdave123-py/contexta/internal/core/retrieval"
	"github.com/markdave123-py/contexta/internal/logger"
)

// Retriever finds the chunks to answer from.
type Retriever interface {
	Retrieve(ctx context.Context, ownerID, query string, candidates []string) (*retrieval.Result, error)
}

const systemPrompt = "You are an intelligent assistant answering based only on the given document content. " +
	"If unsure, say 'I cannot find this in the document.'"

// Replies for queries that never reach the model.
const (
	msgNoDocuments  = "You have not uploaded any documents yet. Upload a PDF and ask again once it has been processed."
	msgNotProcessed = "Your documents are still being processed. Please try again in a moment."
	msgNoMatch      = "I could not find anything relevant to your question in your documents."
)

// Source points at one chunk used for an answer.
type Source struct {
	DocumentID    string  `json:"document_id"`
	SequenceIndex int     `json:"sequence_index"`
	Score         float64 `json:"score"`
}

type Answer struct {
	Answer  string            `json:"answer"`
	Outcome retrieval.Outcome `json:"outcome"`
	Sources []Source          `json:"sources"`
	// Dropped lists requested ids that were ignored because the caller does not own them.
	Dropped []string `json:"dropped_document_ids,omitempty"`
}

type ChatService struct {
	retriever Retriever
	llm       core.LLMProvider
	log       zerolog.Logger
}

func NewChatService(retriever Retriever, llm core.LLMProvider, log zerolog.Logger) *ChatService {
	return &ChatService{retriever: retriever, llm: llm, log: logger.Component(log, "chat")}
}

// Ask answers question from ownerID's documents, optionally narrowed to
// documentIDs.
func (s *ChatService) Ask(ctx context.Context, ownerID, question string, documentIDs []string) (*Answer, error) {
	question = strings.TrimSpace(question)
	res, err := s.retriever.Retrieve(ctx, ownerID, question, documentIDs)
	if err != nil {
		return nil, err
	}

	out := &Answer{Outcome: res.Outcome, Sources: []Source{}, Dropped: res.Dropped}
	if res.Empty() {
		out.Answer = emptyReply(res.Outcome)
		return out, nil
	}

	for _, c := range res.Chunks {
		out.Sources = append(out.Sources, Source{
			DocumentID:    c.Payload.SourceDocumentID,
			SequenceIndex: c.Payload.SequenceIndex,
			Score:         c.Score,
		})
	}

	userPrompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", res.Context(), question)
	answer, err := s.llm.Generate(ctx, systemPrompt, userPrompt)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = core.ErrNoCompletion
	}
	if errors.Is(err, core.ErrNoCompletion) {
		s.log.Warn().Err(err).Str("owner_id", ownerID).Int("chunks", len(res.Chunks)).Msg("model gave no answer")
	}
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	out.Answer = answer

	s.log.Debug().Str("owner_id", ownerID).Int("chunks", len(res.Chunks)).Bool("fallback", res.Fallback).Msg("question answered")
	return out, nil
}

func emptyReply(o retrieval.Outcome) string {
	switch o {
	case retrieval.NoDocuments:
		return msgNoDocuments
	case retrieval.NotProcessed:
		return msgNotProcessed
	default:
		return msgNoMatch
	}
}

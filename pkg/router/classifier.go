package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// classifierConfidence is assigned to decisions produced by the remote
// classifier. High enough to be acted on, low enough that learned patterns
// can outrank it.
const classifierConfidence = 0.8

// remotePick is the JSON shape the classifier model must return.
type remotePick struct {
	Mode         string   `json:"mode"`
	KnowledgeIDs []string `json:"knowledge_ids"`
	WorkerIDs    []string `json:"worker_ids"`
	Reason       string   `json:"reason"`
}

// classify asks the remote classifier to route the query. Returns nil on
// any failure (deadline, malformed output, unknown mode or ids) so the
// caller falls back to the deterministic decision.
func (r *Router) classify(ctx context.Context, query string, local *RoutingDecision) *RoutingDecision {
	deadline := time.Duration(r.cfg.Deadlines.ClassifierMs) * time.Millisecond
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	resp, err := r.classifier.Generate(cctx, r.cfg.Classifier.Model, r.classifierPrompt(query))
	if err != nil || resp == nil || resp.Artifact == nil {
		r.logger.Debug("classifier call failed, keeping deterministic decision",
			zap.Error(err))
		return nil
	}

	var pick remotePick
	if err := json.Unmarshal([]byte(extractJSON(resp.Artifact.Content)), &pick); err != nil {
		r.logger.Debug("classifier returned malformed JSON", zap.Error(err))
		return nil
	}

	mode, err := ParseMode(pick.Mode)
	if err != nil {
		r.logger.Debug("classifier picked unknown mode", zap.String("mode", pick.Mode))
		return nil
	}

	var kids []string
	for _, id := range pick.KnowledgeIDs {
		if r.index != nil && r.index.Has(id) {
			kids = append(kids, id)
		} else if r.matcher.Has(id) {
			kids = append(kids, id)
		}
	}
	var wids []string
	for _, id := range pick.WorkerIDs {
		if _, ok := r.directory.Get(id); ok {
			wids = append(wids, id)
		}
	}
	if mode != ModeKnowledgeOnly && len(wids) == 0 {
		return nil
	}

	d := &RoutingDecision{
		Mode:         mode,
		KnowledgeIDs: kids,
		WorkerIDs:    wids,
		Confidence:   classifierConfidence,
		Rationale:    "classifier: " + pick.Reason,
		Complexity:   local.Complexity,
	}

	// Parallel decisions need sub-tasks the classifier does not produce;
	// reuse the local decomposition and re-assign workers per clause.
	if mode == ModeParallel {
		if len(local.SubTasks) < 2 {
			return nil
		}
		d.SubTasks = local.SubTasks
		d.WorkerIDs = make([]string, len(d.SubTasks))
		for i, task := range d.SubTasks {
			d.WorkerIDs[i] = r.workerForClause(task)
		}
	}
	return d
}

func (r *Router) classifierPrompt(query string) string {
	var sb strings.Builder
	sb.WriteString("You route queries for a hybrid execution engine. Choose exactly one mode:\n")
	sb.WriteString("- knowledge_only: answer from cached knowledge, no worker\n")
	sb.WriteString("- knowledge_worker: knowledge context plus one specialized worker\n")
	sb.WriteString("- parallel: independent sub-tasks executed concurrently\n")
	sb.WriteString("- multi_worker: sequential chain of workers with review\n\n")
	sb.WriteString("Knowledge units:\n")
	if r.index != nil {
		sb.WriteString(r.index.CompressedIndex())
	}
	sb.WriteString("\n\nWorkers:\n")
	for _, w := range r.directory.All() {
		fmt.Fprintf(&sb, "%s: %s\n", w.ID, strings.Join(w.Capabilities, ", "))
	}
	sb.WriteString("\nRespond with JSON only, no prose: ")
	sb.WriteString(`{"mode": "...", "knowledge_ids": [], "worker_ids": [], "reason": "..."}`)
	sb.WriteString("\n\nQuery: ")
	sb.WriteString(query)
	return sb.String()
}

// extractJSON strips markdown code fences and surrounding prose, keeping
// the outermost JSON object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			s = s[i : j+1]
		}
	}
	return strings.TrimSpace(s)
}

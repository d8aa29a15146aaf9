// Package taskmanager implements the task-management agent (§4.5): CRUD
// tools over the task repository, all flagged slow since each traverses
// storage, plus the natural-language task summariser.
//
// Grounded on original_source/src/client/agents/task_agent.py for the tool
// set, due-date coercion, and result shapes; the summariser format follows
// SPEC_FULL.md's authoritative rewrite of `_summarize_tasks` rather than the
// original's bulleted multi-line rendering.
package taskmanager

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/corevox/corevox/internal/agent"
	"github.com/corevox/corevox/internal/corerr"
	"github.com/corevox/corevox/internal/sessionctx"
	"github.com/corevox/corevox/internal/signal"
	"github.com/corevox/corevox/internal/storage"
	"github.com/corevox/corevox/internal/tooling"
)

// Name is the task manager's registered agent name.
const Name = "task_manager"

const defaultPrompt = `You are the task management assistant for a voice assistant.
Help {{user_name}} create, find, and manage their tasks using the
available tools.

Authenticated: {{is_authenticated}}`

// statusValues is the enum advertised to the LLM for every status argument.
var statusValues = []string{
	string(storage.StatusOpen), string(storage.StatusInProgress),
	string(storage.StatusCompleted), string(storage.StatusCancelled),
}

// TaskManager is the scribe agent. It is constructed fresh per call, with
// gctx captured by its tool closures: GlobalContext is owned and mutated in
// place by the orchestrator for the lifetime of one call, so a per-call
// agent instance can read gctx.User without agent.ToolFunc needing its own
// context parameter.
type TaskManager struct {
	agent.Base
	gctx  *sessionctx.GlobalContext
	tasks storage.TaskRepo
	log   *slog.Logger
}

var _ agent.Agent = (*TaskManager)(nil)

// RenderPrompt renders the task manager prompt with the base template
// variables.
func (tm *TaskManager) RenderPrompt(gctx *sessionctx.GlobalContext) string {
	return tm.Base.RenderPrompt(gctx, nil)
}

// New builds the task manager agent bound to one call's GlobalContext.
func New(gctx *sessionctx.GlobalContext, tasks storage.TaskRepo, log *slog.Logger) *TaskManager {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	tm := &TaskManager{gctx: gctx, tasks: tasks, log: log}
	tm.Base = agent.Base{
		AgentName:      Name,
		PromptTemplate: defaultPrompt,
		Model:          taskManagerModelConfig(),
	}
	tm.ToolList = tm.buildTools()
	return tm
}

func taskManagerModelConfig() agent.ModelConfig {
	cfg := agent.DefaultModelConfig()
	cfg.Temperature = 0.7
	cfg.ResponseModality = "AUDIO"
	cfg.VoiceName = "Kore"
	return cfg
}

func (tm *TaskManager) buildTools() []agent.Tool {
	return []agent.Tool{
		tm.createTaskTool(),
		tm.searchTasksTool(),
		tm.getAllTasksTool(),
		tm.updateTaskStatusTool(),
		tm.getTodaysTasksTool(),
		tm.getHighPriorityTasksTool(),
		tm.deleteTaskTool(),
	}
}

// requireAuth returns the authenticated caller's user id, or an
// [corerr.AuthenticationError] when the call isn't authenticated (§4.5).
func (tm *TaskManager) requireAuth() (string, error) {
	if !tm.gctx.User.IsAuthenticated {
		return "", corerr.NewAuthenticationError("user not authenticated")
	}
	return tm.gctx.User.UserID, nil
}

// parseDueDate accepts "YYYY-MM-DD" (coerced to end-of-day) and
// "YYYY-MM-DDTHH:MM:SS", matching §4.5 exactly.
func parseDueDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if !strings.Contains(s, "T") {
		s += "T23:59:59"
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return nil, fmt.Errorf("invalid due_date %q: %w", s, err)
	}
	return &t, nil
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (tm *TaskManager) createTaskTool() agent.Tool {
	schema := tooling.Object(map[string]*jsonschema.Schema{
		"description": tooling.String("The task description"),
		"priority":    tooling.Integer("Priority level from 1 (highest) to 5 (lowest)"),
		"due_date":    tooling.String("Due date in ISO8601 format (YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS)"),
	}, "description")

	return agent.Tool{
		Name:        "create_task",
		Description: "Create a new task for the user",
		Parameters:  tooling.ToParameters(schema),
		IsSlow:      true,
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			userID, err := tm.requireAuth()
			if err != nil {
				return nil, err
			}
			description, _ := args["description"].(string)
			priority := storage.ClampPriority(intArg(args, "priority", 3))

			var dueDate *time.Time
			if ds, _ := args["due_date"].(string); ds != "" {
				dueDate, err = parseDueDate(ds)
				if err != nil {
					tm.log.Warn("invalid_due_date", slog.String("due_date", ds))
					dueDate = nil
				}
			}

			task, err := tm.tasks.Create(ctx, userID, description, priority, dueDate)
			if err != nil {
				return map[string]any{"success": false, "error": err.Error()}, nil
			}

			tm.log.Info("task_created", slog.String("task_id", task.ID), slog.String("user_id", userID))

			result := map[string]any{
				"success":     true,
				"task_id":     task.ID,
				"description": task.Description,
				"priority":    task.Priority,
				"message":     fmt.Sprintf("Task created: %s", task.Description),
			}
			if task.DueDate != nil {
				result["due_date"] = task.DueDate.Format(time.RFC3339)
			}
			return result, nil
		},
	}
}

func (tm *TaskManager) searchTasksTool() agent.Tool {
	schema := tooling.Object(map[string]*jsonschema.Schema{
		"query":  tooling.String("Search query to match against task descriptions"),
		"status": tooling.Enum("Filter by status", statusValues...),
	})

	return agent.Tool{
		Name:        "search_tasks",
		Description: "Search and retrieve tasks based on query and filters",
		Parameters:  tooling.ToParameters(schema),
		IsSlow:      true,
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			userID, err := tm.requireAuth()
			if err != nil {
				return nil, err
			}
			query, _ := args["query"].(string)
			status, err := optionalStatus(args)
			if err != nil {
				return nil, err
			}

			var tasks []storage.Task
			if query != "" {
				tasks, err = tm.tasks.Search(ctx, userID, query, status)
			} else {
				tasks, err = tm.tasks.GetByUser(ctx, userID, status, nil, 0)
			}
			if err != nil {
				return map[string]any{"success": false, "error": err.Error()}, nil
			}
			return tasksResult(tasks), nil
		},
	}
}

func (tm *TaskManager) getAllTasksTool() agent.Tool {
	schema := tooling.Object(map[string]*jsonschema.Schema{
		"status": tooling.Enum("Optional status filter", statusValues...),
		"limit":  tooling.Integer("Maximum number of tasks to return"),
	})

	return agent.Tool{
		Name:        "get_all_tasks",
		Description: "Get all tasks for the current user",
		Parameters:  tooling.ToParameters(schema),
		IsSlow:      true,
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			userID, err := tm.requireAuth()
			if err != nil {
				return nil, err
			}
			status, err := optionalStatus(args)
			if err != nil {
				return nil, err
			}
			limit := intArg(args, "limit", 10)

			tasks, err := tm.tasks.GetByUser(ctx, userID, status, nil, limit)
			if err != nil {
				return map[string]any{"success": false, "error": err.Error()}, nil
			}
			return tasksResult(tasks), nil
		},
	}
}

func (tm *TaskManager) updateTaskStatusTool() agent.Tool {
	schema := tooling.Object(map[string]*jsonschema.Schema{
		"task_id": tooling.String("The unique task identifier"),
		"status":  tooling.Enum("New status for the task", statusValues...),
	}, "task_id", "status")

	return agent.Tool{
		Name:        "update_task_status",
		Description: "Update the status of a specific task",
		Parameters:  tooling.ToParameters(schema),
		IsSlow:      true,
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			if _, err := tm.requireAuth(); err != nil {
				return nil, err
			}
			taskID, _ := args["task_id"].(string)
			statusStr, _ := args["status"].(string)

			status, err := storage.ParseTaskStatus(statusStr)
			if err != nil {
				return nil, err
			}

			task, err := tm.tasks.UpdateStatus(ctx, taskID, status)
			if err != nil {
				return map[string]any{"success": false, "error": fmt.Sprintf("Task %s not found", taskID)}, nil
			}

			return map[string]any{
				"success":    true,
				"task_id":    task.ID,
				"new_status": string(task.Status),
				"message":    fmt.Sprintf("Task updated to %s", task.Status),
			}, nil
		},
	}
}

func (tm *TaskManager) getTodaysTasksTool() agent.Tool {
	return agent.Tool{
		Name:        "get_todays_tasks",
		Description: "Get tasks that are due today",
		Parameters:  tooling.ToParameters(tooling.Object(map[string]*jsonschema.Schema{})),
		IsSlow:      true,
		Invoke: func(ctx context.Context, _ map[string]any) (any, error) {
			userID, err := tm.requireAuth()
			if err != nil {
				return nil, err
			}
			tasks, err := tm.tasks.GetDueToday(ctx, userID)
			if err != nil {
				return map[string]any{"success": false, "error": err.Error()}, nil
			}
			result := tasksResult(tasks)
			result["message"] = fmt.Sprintf("You have %d task(s) due today", len(tasks))
			return result, nil
		},
	}
}

func (tm *TaskManager) getHighPriorityTasksTool() agent.Tool {
	schema := tooling.Object(map[string]*jsonschema.Schema{
		"limit": tooling.Integer("Maximum number of tasks"),
	})

	return agent.Tool{
		Name:        "get_high_priority_tasks",
		Description: "Get high priority tasks (priority 1-2)",
		Parameters:  tooling.ToParameters(schema),
		IsSlow:      true,
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			userID, err := tm.requireAuth()
			if err != nil {
				return nil, err
			}
			limit := intArg(args, "limit", 5)

			tasks, err := tm.tasks.GetHighPriority(ctx, userID, limit)
			if err != nil {
				return map[string]any{"success": false, "error": err.Error()}, nil
			}
			result := tasksResult(tasks)
			result["message"] = fmt.Sprintf("You have %d high priority task(s)", len(tasks))
			return result, nil
		},
	}
}

func (tm *TaskManager) deleteTaskTool() agent.Tool {
	schema := tooling.Object(map[string]*jsonschema.Schema{
		"task_id": tooling.String("The unique task identifier"),
	}, "task_id")

	return agent.Tool{
		Name:        "delete_task",
		Description: "Delete a task permanently",
		Parameters:  tooling.ToParameters(schema),
		IsSlow:      true,
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			if _, err := tm.requireAuth(); err != nil {
				return nil, err
			}
			taskID, _ := args["task_id"].(string)

			if err := tm.tasks.Delete(ctx, taskID); err != nil {
				return map[string]any{"success": false, "error": fmt.Sprintf("Task %s not found", taskID)}, nil
			}
			return map[string]any{
				"success": true,
				"task_id": taskID,
				"message": "Task deleted successfully",
			}, nil
		},
	}
}

func optionalStatus(args map[string]any) (*storage.TaskStatus, error) {
	s, _ := args["status"].(string)
	if s == "" {
		return nil, nil
	}
	status, err := storage.ParseTaskStatus(s)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func tasksResult(tasks []storage.Task) map[string]any {
	descriptions := make([]map[string]any, len(tasks))
	for i, t := range tasks {
		d := map[string]any{
			"task_id":     t.ID,
			"description": t.Description,
			"priority":    t.Priority,
			"status":      string(t.Status),
		}
		if t.DueDate != nil {
			d["due_date"] = t.DueDate.Format(time.RFC3339)
		}
		descriptions[i] = d
	}
	return map[string]any{
		"success": true,
		"count":   len(tasks),
		"tasks":   descriptions,
	}
}

// OnEnter seeds the handoff injection block and logs warm-handoff context.
func (tm *TaskManager) OnEnter(_ context.Context, gctx *sessionctx.GlobalContext, handoff *sessionctx.HandoffData) error {
	if handoff != nil {
		tm.SetHandoffContext(handoff.ToContextInjection())
		tm.log.Info("task_manager_activated_with_handoff",
			slog.String("user", gctx.User.FullName),
			slog.String("source", handoff.SourceAgent),
			slog.String("intent", handoff.UserIntent),
			slog.Bool("greeting_done", handoff.GreetingCompleted))
		return nil
	}
	tm.log.Info("task_manager_active", slog.String("user", gctx.User.FullName))
	return nil
}

// OnExit clears the handoff injection so it doesn't leak into a future entry.
func (tm *TaskManager) OnExit(_ context.Context, _ *sessionctx.GlobalContext) error {
	tm.SetHandoffContext("")
	return nil
}

// ProcessSignal forwards every signal straight to the live model.
func (tm *TaskManager) ProcessSignal(ctx context.Context, _ *sessionctx.GlobalContext, sig signal.Signal) (signal.Response, error) {
	return tm.ForwardToSession(ctx, sig)
}

// HandleToolResult implements the natural-language summariser (§4.5).
func (tm *TaskManager) HandleToolResult(_ context.Context, gctx *sessionctx.GlobalContext, toolName string, result any, toolErr error) (*signal.Response, error) {
	if toolErr != nil {
		return nil, nil
	}
	m, ok := result.(map[string]any)
	if !ok {
		return nil, nil
	}
	success, _ := m["success"].(bool)
	if !success {
		return nil, nil
	}

	sessionID := ""
	if gctx != nil && gctx.Session != nil {
		sessionID = gctx.Session.SessionID
	}

	switch toolName {
	case "create_task":
		text := fmt.Sprintf("I've created your task: %v. Priority is set to %v.", m["description"], m["priority"])
		resp := signal.TextResponse(sessionID, tm.AgentName, text, true)
		return &resp, nil
	case "get_all_tasks", "search_tasks":
		tasks, _ := m["tasks"].([]map[string]any)
		var text string
		if len(tasks) == 0 {
			text = "You don't have any tasks matching that criteria."
		} else {
			text = summarizeTasks(tasks)
		}
		resp := signal.TextResponse(sessionID, tm.AgentName, text, true)
		return &resp, nil
	}
	return nil, nil
}

// summarizeTasks produces the spoken summary of a task list. Tasks with
// priority <= 2 count as high priority; no other band is computed. When any
// high-priority tasks exist the reply names up to three of them; otherwise
// it names up to two tasks from the full list.
func summarizeTasks(tasks []map[string]any) string {
	count := len(tasks)

	var high []string
	for _, t := range tasks {
		if priority, _ := t["priority"].(int); priority <= 2 {
			high = append(high, fmt.Sprintf("%v", t["description"]))
		}
	}

	if len(high) > 0 {
		n := len(high)
		if n > 3 {
			n = 3
		}
		return fmt.Sprintf("You have %d tasks. %d high priority: %s", count, len(high), strings.Join(high[:n], ", "))
	}

	n := count
	if n > 2 {
		n = 2
	}
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = fmt.Sprintf("%v", tasks[i]["description"])
	}
	return fmt.Sprintf("You have %d tasks: %s", count, strings.Join(names, ", "))
}

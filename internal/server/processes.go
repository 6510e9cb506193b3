package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"procline/internal/engine"
	"procline/internal/repo"
	"procline/internal/workflow"
)

type processPath struct {
	ProcessID string `path:"process_id"`
}

func registerProcesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-process",
		Method:        http.MethodPost,
		Path:          "/processes",
		Summary:       "Create process",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateProcessRequest `json:"body"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProcess(ctx, engine.ProcessCreateOptions{
			ID:      input.Body.ID,
			Name:    input.Body.Name,
			Active:  input.Body.Active,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: processResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-processes",
		Method:      http.MethodGet,
		Path:        "/processes",
		Summary:     "List processes",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"seeding,active,completed,archived"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedProcesses `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		createdAt, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListProcesses(ctx, repo.ProcessFilters{
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: createdAt,
			CursorID:        id,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedProcesses{}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = mapProcesses(items)
		return &struct {
			Body paginatedProcesses `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-process",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}",
		Summary:     "Get process",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *processPath) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProcess(ctx, input.ProcessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: processResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-process-tree",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}/tree",
		Summary:     "Get the stage, step and field tree of a process",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *processPath) (*struct {
		Body TreeResponse `json:"body"`
	}, error) {
		tree, err := e.Tree(ctx, input.ProcessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TreeResponse `json:"body"`
		}{Body: treeResponse(tree)}, nil
	})

	lifecycle := func(id, path, summary string, run func(context.Context, string, string) (workflow.Process, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        path,
			Summary:     summary,
			Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
		}, func(ctx context.Context, input *processPath) (*struct {
			Body ProcessResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			p, err := run(ctx, input.ProcessID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body ProcessResponse `json:"body"`
			}{Body: processResponse(p)}, nil
		})
	}
	lifecycle("activate-process", "/processes/{process_id}/activate", "End seeding and start the process", e.ActivateProcess)
	lifecycle("archive-process", "/processes/{process_id}/archive", "Archive the process", e.ArchiveProcess)
}

func registerStructure(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-stage",
		Method:        http.MethodPost,
		Path:          "/processes/{process_id}/stages",
		Summary:       "Append a stage",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProcessID string            `path:"process_id"`
		Body      CreateNodeRequest `json:"body"`
	}) (*struct {
		Body StageResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AddStage(ctx, engine.StageCreateOptions{ID: input.Body.ID, ProcessID: input.ProcessID, Name: input.Body.Name, ActorID: actorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StageResponse `json:"body"`
		}{Body: stageResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-step",
		Method:        http.MethodPost,
		Path:          "/stages/{stage_id}/steps",
		Summary:       "Append a step",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StageID string            `path:"stage_id"`
		Body    CreateNodeRequest `json:"body"`
	}) (*struct {
		Body StepResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AddStep(ctx, engine.StepCreateOptions{ID: input.Body.ID, StageID: input.StageID, Name: input.Body.Name, ActorID: actorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StepResponse `json:"body"`
		}{Body: stepResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-field",
		Method:        http.MethodPost,
		Path:          "/steps/{step_id}/fields",
		Summary:       "Append a field",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StepID string             `path:"step_id"`
		Body   CreateFieldRequest `json:"body"`
	}) (*struct {
		Body FieldResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.AddField(ctx, engine.FieldCreateOptions{
			ID:      input.Body.ID,
			StepID:  input.StepID,
			Name:    input.Body.Name,
			Type:    workflow.FieldType(input.Body.Type),
			Content: input.Body.Content,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FieldResponse `json:"body"`
		}{Body: fieldResponse(f, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-field",
		Method:        http.MethodDelete,
		Path:          "/fields/{field_id}",
		Summary:       "Remove a field and compact its step",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FieldID string `path:"field_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveField(ctx, input.FieldID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

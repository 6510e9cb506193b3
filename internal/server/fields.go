package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"procline/internal/engine"
	"procline/internal/workflow"
)

type changeOutput struct {
	Body ChangeResponse `json:"body"`
}

func registerFields(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-field-status",
		Method:      http.MethodPatch,
		Path:        "/fields/{field_id}/status",
		Summary:     "Close, reopen or skip a field",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		FieldID string             `path:"field_id"`
		Body    FieldStatusRequest `json:"body"`
	}) (*changeOutput, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ch, err := e.SetFieldStatus(ctx, input.FieldID, workflow.FieldStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &changeOutput{Body: changeResponse(ch)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-field-content",
		Method:      http.MethodPut,
		Path:        "/fields/{field_id}/content",
		Summary:     "Replace field content",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		FieldID string              `path:"field_id"`
		Body    FieldContentRequest `json:"body"`
	}) (*changeOutput, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ch, err := e.UpdateFieldContent(ctx, input.FieldID, input.Body.Content, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &changeOutput{Body: changeResponse(ch)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-field-dossier",
		Method:      http.MethodPut,
		Path:        "/fields/{field_id}/dossier",
		Summary:     "Replace the fields a dossier aggregates",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		FieldID string         `path:"field_id"`
		Body    DossierRequest `json:"body"`
	}) (*changeOutput, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ch, err := e.SetDossierFields(ctx, input.FieldID, input.Body.FieldIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &changeOutput{Body: changeResponse(ch)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recalculate-field",
		Method:      http.MethodPost,
		Path:        "/fields/{field_id}/recalculate",
		Summary:     "Re-run the status cascade from a field",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		FieldID string `path:"field_id"`
	}) (*changeOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ch, err := e.Recalculate(ctx, input.FieldID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &changeOutput{Body: changeResponse(ch)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task-list-item",
		Method:        http.MethodPost,
		Path:          "/fields/{field_id}/items",
		Summary:       "Append a task list item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FieldID string            `path:"field_id"`
		Body    CreateItemRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.AddTaskListItem(ctx, engine.ItemCreateOptions{
			ID:      input.Body.ID,
			FieldID: input.FieldID,
			Title:   input.Body.Title,
			Status:  workflow.ItemStatus(input.Body.Status),
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-list-item-status",
		Method:      http.MethodPatch,
		Path:        "/items/{item_id}/status",
		Summary:     "Set a task list item status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ItemID string            `path:"item_id"`
		Body   ItemStatusRequest `json:"body"`
	}) (*changeOutput, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ch, err := e.SetTaskListItemStatus(ctx, input.ItemID, workflow.ItemStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &changeOutput{Body: changeResponse(ch)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "attach-task",
		Method:        http.MethodPost,
		Path:          "/fields/{field_id}/task",
		Summary:       "Attach the task behind a task field",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FieldID string            `path:"field_id"`
		Body    AttachTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AttachTask(ctx, engine.TaskAttachOptions{
			ID:         input.Body.ID,
			FieldID:    input.FieldID,
			Title:      input.Body.Title,
			AssigneeID: input.Body.AssigneeID,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Move a task through review",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   TaskStatusRequest `json:"body"`
	}) (*changeOutput, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ch, err := e.SetTaskStatus(ctx, input.TaskID, workflow.TaskStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &changeOutput{Body: changeResponse(ch)}, nil
	})
}

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"procline/internal/engine"
	"procline/internal/ordering"
	"procline/internal/workflow"
)

type treeOutput struct {
	Body TreeResponse `json:"body"`
}

func registerOrdering(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "reorder-container",
		Method:      http.MethodPost,
		Path:        "/containers/{kind}/{container_id}/reorder",
		Summary:     "Rewrite the sibling order of a container",
		Description: "kind names the items being ordered: stage orders a process, step a stage, field a step.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Kind        string         `path:"kind" enum:"stage,step,field"`
		ContainerID string         `path:"container_id"`
		Body        ReorderRequest `json:"body"`
	}) (*treeOutput, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tree, err := e.Reorder(ctx, workflow.ItemKind(input.Kind), input.ContainerID, input.Body.OrderedIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &treeOutput{Body: treeResponse(tree)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-item",
		Method:      http.MethodPost,
		Path:        "/items/{kind}/{item_id}/move",
		Summary:     "Move an item into another container",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Kind   string      `path:"kind" enum:"stage,step,field"`
		ItemID string      `path:"item_id"`
		Body   MoveRequest `json:"body"`
	}) (*struct {
		Body MoveResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Move(ctx, workflow.ItemKind(input.Kind), input.ItemID, input.Body.To, input.Body.OrderedIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := MoveResponse{From: res.From, To: res.To, Tree: treeResponse(res.Tree)}
		for _, c := range res.Cascades {
			out.Cascades = append(out.Cascades, cascadeResponse(c))
		}
		// the tree was loaded before the cascades ran
		if tree, err := e.Tree(ctx, res.Tree.Process().ID); err == nil {
			out.Tree = treeResponse(tree)
		}
		return &struct {
			Body MoveResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "commit-drag",
		Method:      http.MethodPost,
		Path:        "/processes/{process_id}/commit",
		Summary:     "Persist the plan of a client-side drag gesture",
		Description: "Calls run in order and stop at the first failure; on 409 the client reloads the tree.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ProcessID string        `path:"process_id"`
		Body      CommitRequest `json:"body"`
	}) (*treeOutput, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tree, err := e.Tree(ctx, input.ProcessID)
		if err != nil {
			return nil, handleError(err)
		}
		for _, c := range input.Body.Calls {
			if !tree.HasContainer(c.Kind, c.ContainerID) {
				return nil, newAPIError(http.StatusConflict, "tree_conflict", "container "+c.ContainerID+" is not in process "+input.ProcessID, nil)
			}
			if c.Op != ordering.OpMove {
				continue
			}
			if from, ok := tree.ContainerOf(c.Kind, c.ItemID); !ok || from != c.From {
				return nil, newAPIError(http.StatusConflict, "tree_conflict", "item "+c.ItemID+" is not in "+c.From, nil)
			}
		}
		if err := e.CommitPlan(ctx, input.ProcessID, ordering.Plan(input.Body.Calls), actorID); err != nil {
			return nil, handleError(err)
		}
		tree, err = e.Tree(ctx, input.ProcessID)
		if err != nil {
			return nil, handleError(err)
		}
		return &treeOutput{Body: treeResponse(tree)}, nil
	})
}

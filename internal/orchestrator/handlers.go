package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Armada/internal/lifecycle"
	"github.com/shaiso/Armada/internal/mq"
)

// HandleCommand обрабатывает команду оператора из очереди fleet.commands.
//
// Неразбираемые команды и команды для неизвестных узлов уходят в DLQ.
// Команда, которую нельзя выполнить прямо сейчас (идёт деплой, узел
// уже провижинится), подтверждается без выполнения.
func (o *Orchestrator) HandleCommand(ctx context.Context, delivery *mq.Delivery) error {
	cmd, err := mq.ParsePayload[mq.CommandPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse command payload", "message_id", delivery.Message.ID, "error", err)
		return mq.Reject(err)
	}
	if err := cmd.Validate(); err != nil {
		return mq.Reject(err)
	}

	o.logger.Info("received command",
		"command", string(cmd.Command),
		"node_id", cmd.NodeID,
		"requested_by", cmd.RequestedBy,
		"message_id", delivery.Message.ID,
	)

	err = o.ExecuteCommand(ctx, cmd)
	switch {
	case err == nil:
		return nil

	case errors.Is(err, ErrUnknownNode),
		errors.Is(err, ErrNoTopology),
		errors.Is(err, lifecycle.ErrInvalidTransition):
		return mq.Reject(err)

	case errors.Is(err, ErrDeployInProgress),
		errors.Is(err, lifecycle.ErrAlreadyProvisioning):
		o.logger.Info("command skipped", "command", string(cmd.Command), "node_id", cmd.NodeID, "reason", err)
		return nil

	default:
		return err
	}
}

// ExecuteCommand выполняет команду оператора.
// Провал узла после retry — не ошибка команды: он виден в состоянии узла.
func (o *Orchestrator) ExecuteCommand(ctx context.Context, cmd mq.CommandPayload) error {
	switch cmd.Command {
	case mq.CommandRetry:
		res, err := o.Retry(ctx, cmd.NodeID)
		if err != nil {
			return err
		}
		o.logger.Info("retry finished", "node_id", cmd.NodeID, "state", string(res.State), "error", res.Error)
		return nil

	case mq.CommandStop:
		return o.Stop(ctx, cmd.NodeID)

	case mq.CommandDeploy:
		res, err := o.Redeploy(ctx)
		if err != nil {
			return err
		}
		o.logger.Info("redeploy finished", "deploy_id", res.ID.String(), "failed", res.Failed)
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
}

package executor

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nixval/declarch/config"
	"github.com/nixval/declarch/manager"
)

// runActions executes the lifecycle actions for one phase (optionally scoped
// to a package) in document order. A failing action with required behavior
// aborts; warn logs and continues; ignore swallows the failure.
func runActions(runner manager.CommandRunner, cfg *config.MergedConfig, phase config.Phase, pkg string) error {
	for _, action := range cfg.ActionsFor(phase, pkg) {
		if err := checkInterrupt(); err != nil {
			return err
		}
		err := runAction(runner, action)
		if err == nil {
			continue
		}
		switch action.ErrorBehavior {
		case config.BehaviorRequired:
			return errors.Wrapf(err, "required %s hook failed", phase)
		case config.BehaviorIgnore:
		default:
			logrus.WithFields(logrus.Fields{
				"phase":   phase,
				"command": action.Command,
			}).WithError(err).Warn("hook failed")
		}
	}
	return nil
}

func runAction(runner manager.CommandRunner, action config.Action) error {
	logrus.WithFields(logrus.Fields{
		"phase":   action.Phase,
		"command": action.Command,
	}).Debug("running hook")
	return runner.RunInteractive(context.Background(), action.Command, manager.RunOptions{
		Sudo:    action.Type == config.ActionRoot,
		Timeout: manager.DefaultHookTimeout,
	})
}

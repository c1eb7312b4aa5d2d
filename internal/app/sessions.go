package app

import (
	"context"

	"refi-rate-alerts/internal/service"
)

// RegisterUser records a user's contact address.
func (a *App) RegisterUser(ctx context.Context, userID, email string) error {
	return a.withService(ctx, func(svc *service.Service) error {
		user, err := svc.RegisterUser(ctx, userID, email)
		if err != nil {
			return err
		}
		return a.printJSON(user)
	})
}

// SetProfile validates and saves a threshold profile.
func (a *App) SetProfile(ctx context.Context, userID string, in service.ProfileInput) error {
	return a.withService(ctx, func(svc *service.Service) error {
		profile, err := svc.UpdateProfile(ctx, userID, in)
		if err != nil {
			return err
		}
		return a.printJSON(profile)
	})
}

// ShowProfile prints the saved profile.
func (a *App) ShowProfile(ctx context.Context, userID string) error {
	return a.withService(ctx, func(svc *service.Service) error {
		profile, err := svc.Profile(ctx, userID)
		if err != nil {
			return err
		}
		return a.printJSON(profile)
	})
}

// CreateSession starts a monitor session; replace stops any live one first.
func (a *App) CreateSession(ctx context.Context, userID string, replace bool) error {
	return a.withService(ctx, func(svc *service.Service) error {
		var (
			change service.SessionChange
			err    error
		)
		if replace {
			change, err = svc.StartOver(ctx, userID)
		} else {
			change, err = svc.CreateSession(ctx, userID)
		}
		if err != nil {
			return err
		}
		return a.printJSON(change)
	})
}

// SessionCommand names a lifecycle command applied to one session.
type SessionCommand string

// Lifecycle commands.
const (
	CommandPause  SessionCommand = "pause"
	CommandResume SessionCommand = "resume"
	CommandStop   SessionCommand = "stop"
	CommandRun    SessionCommand = "run"
)

// ApplySession runs cmd against sessionID and prints the outcome.
func (a *App) ApplySession(ctx context.Context, sessionID string, cmd SessionCommand) error {
	return a.withService(ctx, func(svc *service.Service) error {
		switch cmd {
		case CommandPause:
			session, err := svc.Pause(ctx, sessionID)
			if err != nil {
				return err
			}
			return a.printJSON(service.SessionChange{Session: session})
		case CommandResume:
			change, err := svc.Resume(ctx, sessionID)
			if err != nil {
				return err
			}
			return a.printJSON(change)
		case CommandStop:
			session, err := svc.Stop(ctx, sessionID)
			if err != nil {
				return err
			}
			return a.printJSON(service.SessionChange{Session: session})
		default:
			result, err := svc.RunEvaluation(ctx, sessionID, true)
			if err != nil {
				return err
			}
			return a.printJSON(result)
		}
	})
}

// Status prints the user's dashboard view.
func (a *App) Status(ctx context.Context, userID string) error {
	return a.withService(ctx, func(svc *service.Service) error {
		view, err := svc.Status(ctx, userID)
		if err != nil {
			return err
		}
		return a.printJSON(view)
	})
}

package flows

import (
	"context"

	"schoolbot/internal/engine"
)

func (f *Flows) deleteProfile(ctx context.Context, req engine.Request) (engine.Result, error) {
	return engine.Start(profConfirm, nil,
		f.reply(req, f.confirmMenu(), "confirm_profile_delete", "name", req.User.FullName, "group", req.User.Group())), nil
}

func (f *Flows) profConfirm(ctx context.Context, req engine.Request) (engine.Result, error) {
	if !f.confirmed(req.Event) {
		return f.askConfirm(req)
	}
	if err := f.store.DeleteUser(ctx, req.User.ID); err != nil {
		return engine.Result{}, err
	}
	f.log.Infof("profile: user %d deleted their profile", req.User.ID)
	return engine.Finish(f.reply(req, engine.Keyboard(f.t.Button("reregister")), "profile_deleted")), nil
}

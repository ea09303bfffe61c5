package rpcserver

import (
	"context"

	"github.com/xfeldman/warden/internal/model"
)

// dispatch decodes req against the fleet and always returns a Response
// (errors are mapped to Response{Kind: KindError, ...}, never propagated
// as a Go error — any request may return Error{kind, msg}, spec.md §4.8).
func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Kind {
	case KindCreateRealm:
		id, err := s.fleet.Create(req.RealmConfig)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Kind: KindCreatedRealm, UUID: id}

	case KindStartRealm:
		mgr, err := s.fleet.Get(req.RealmID)
		if err != nil {
			return errorResponse(err)
		}
		if err := mgr.Start(ctx); err != nil {
			return errorResponse(err)
		}
		return Response{Kind: KindOk}

	case KindStopRealm:
		mgr, err := s.fleet.Get(req.RealmID)
		if err != nil {
			return errorResponse(err)
		}
		if err := mgr.Stop(ctx); err != nil {
			return errorResponse(err)
		}
		return Response{Kind: KindOk}

	case KindRebootRealm:
		mgr, err := s.fleet.Get(req.RealmID)
		if err != nil {
			return errorResponse(err)
		}
		if err := mgr.Reboot(ctx); err != nil {
			return errorResponse(err)
		}
		return Response{Kind: KindOk}

	case KindDestroyRealm:
		if err := s.fleet.Destroy(ctx, req.RealmID); err != nil {
			return errorResponse(err)
		}
		return Response{Kind: KindOk}

	case KindInspectRealm:
		mgr, err := s.fleet.Get(req.RealmID)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Kind: KindInspectedRealm, Description: mgr.Inspect()}

	case KindListRealms:
		descriptions := make([]model.RealmDescription, 0, len(s.fleet.List()))
		for _, id := range s.fleet.List() {
			mgr, err := s.fleet.Get(id)
			if err != nil {
				continue // destroyed between List and Get
			}
			descriptions = append(descriptions, mgr.Inspect())
		}
		return Response{Kind: KindListedRealms, Descriptions: descriptions}

	case KindCreateApplication:
		mgr, err := s.fleet.Get(req.RealmID)
		if err != nil {
			return errorResponse(err)
		}
		appID, err := mgr.CreateApp(req.AppConfig)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Kind: KindCreatedApplication, UUID: appID}

	case KindUpdateApplication:
		mgr, err := s.fleet.Get(req.RealmID)
		if err != nil {
			return errorResponse(err)
		}
		if err := mgr.UpdateApp(req.AppID, req.AppConfig); err != nil {
			return errorResponse(err)
		}
		return Response{Kind: KindOk}

	case KindStartApplication:
		mgr, err := s.fleet.Get(req.RealmID)
		if err != nil {
			return errorResponse(err)
		}
		if err := mgr.StartApp(ctx, req.AppID); err != nil {
			return errorResponse(err)
		}
		return Response{Kind: KindOk}

	case KindStopApplication:
		mgr, err := s.fleet.Get(req.RealmID)
		if err != nil {
			return errorResponse(err)
		}
		if err := mgr.StopApp(ctx, req.AppID); err != nil {
			return errorResponse(err)
		}
		return Response{Kind: KindOk}

	default:
		return Response{Kind: KindError, ErrKind: "Internal", ErrMsg: "unknown request kind: " + req.Kind}
	}
}

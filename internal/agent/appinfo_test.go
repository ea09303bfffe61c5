package agent

import (
	"testing"

	"github.com/xfeldman/warden/internal/model"
)

func TestBuildApplicationInfo_CopiesFields(t *testing.T) {
	app := &model.Application{
		ID: "app-1",
		Config: model.ApplicationConfig{
			Name:             "web",
			Version:          "1.0",
			ImageRegistryURL: "registry.example/web",
		},
	}

	info := BuildApplicationInfo(app)
	if info.ID != "app-1" || info.Name != "web" || info.Version != "1.0" || info.ImageRegistry != "registry.example/web" {
		t.Errorf("info = %+v, want fields copied from app", info)
	}
}

func TestBuildApplicationInfo_DeterministicPerApp(t *testing.T) {
	app := &model.Application{ID: "app-1", Config: model.ApplicationConfig{Name: "web"}}

	first := BuildApplicationInfo(app)
	second := BuildApplicationInfo(app)

	if first.ImagePartUUID != second.ImagePartUUID {
		t.Errorf("ImagePartUUID differs across calls: %s vs %s", first.ImagePartUUID, second.ImagePartUUID)
	}
	if first.DataPartUUID != second.DataPartUUID {
		t.Errorf("DataPartUUID differs across calls: %s vs %s", first.DataPartUUID, second.DataPartUUID)
	}
}

func TestBuildApplicationInfo_DistinctPerAppID(t *testing.T) {
	app1 := &model.Application{ID: "app-1", Config: model.ApplicationConfig{Name: "web"}}
	app2 := &model.Application{ID: "app-2", Config: model.ApplicationConfig{Name: "web"}}

	info1 := BuildApplicationInfo(app1)
	info2 := BuildApplicationInfo(app2)

	if info1.ImagePartUUID == info2.ImagePartUUID {
		t.Error("ImagePartUUID collides across distinct app ids")
	}
	if info1.DataPartUUID == info2.DataPartUUID {
		t.Error("DataPartUUID collides across distinct app ids")
	}
	if info1.ImagePartUUID == info1.DataPartUUID {
		t.Error("ImagePartUUID and DataPartUUID collide for the same app")
	}
}

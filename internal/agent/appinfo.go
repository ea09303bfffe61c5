package agent

import (
	"github.com/google/uuid"

	"github.com/xfeldman/warden/internal/model"
)

// wardenNamespace scopes the deterministic partition UUIDs derived below.
// Generated once via uuid.NewRandom and fixed thereafter — changing it
// would change every derived partition UUID for existing applications.
var wardenNamespace = uuid.MustParse("8f29c9e6-0db9-4b8b-9a8f-9b6b9b6d9a11")

// BuildApplicationInfo derives the wire ApplicationInfo for app, including
// the image and data partition UUIDs the guest addresses encrypted
// partitions by. Both are deterministic functions of the ApplicationId
// so they are stable across reboots without being persisted separately
// (spec.md §4.4: "derived deterministically from ApplicationId").
func BuildApplicationInfo(app *model.Application) model.ApplicationInfo {
	return model.ApplicationInfo{
		ID:            app.ID,
		Name:          app.Config.Name,
		Version:       app.Config.Version,
		ImageRegistry: app.Config.ImageRegistryURL,
		ImagePartUUID: uuid.NewSHA1(wardenNamespace, []byte(app.ID+":image")).String(),
		DataPartUUID:  uuid.NewSHA1(wardenNamespace, []byte(app.ID+":data")).String(),
	}
}

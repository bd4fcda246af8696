/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fleet

import (
	"context"
	"time"

	"github.com/shookYu/FalconMind/pkg/apis/core"
)

// RunLivenessScan marks UAVs whose heartbeat has lapsed as OFFLINE and
// reports any orphaned mission for reassignment. Terminates when ctx is done.
func (inv *Inventory) RunLivenessScan(ctx context.Context) {
	ticker := time.NewTicker(inv.opts.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			inv.scanOnce(ctx)
		}
	}
}

func (inv *Inventory) scanOnce(ctx context.Context) {
	type orphan struct{ uavID, missionID string }
	var orphans []orphan

	inv.mu.Lock()
	now := inv.clk.Now()
	for _, uav := range inv.uavs {
		if uav.Status == core.UAVStatusOffline {
			continue
		}
		if now.Sub(uav.LastHeartbeat) <= inv.opts.OfflineThreshold {
			continue
		}
		uav.Status = core.UAVStatusOffline
		uav.Version++
		if uav.CurrentMission != "" {
			orphans = append(orphans, orphan{uavID: uav.ID, missionID: uav.CurrentMission})
		}
		if err := inv.persistLocked(ctx, uav); err != nil {
			inv.log.Errorw("persisting offline transition", "uav", uav.ID, "error", err)
		}
		snapshot := *uav
		inv.replicate(ctx, core.SyncOpUpdate, &snapshot)
		inv.log.Warnw("uav marked offline", "uav", uav.ID, "lastHeartbeat", uav.LastHeartbeat)
	}
	inv.mu.Unlock()

	inv.updateStatusGauges()
	if inv.onOffline != nil {
		for _, o := range orphans {
			inv.onOffline(o.uavID, o.missionID)
		}
	}
}

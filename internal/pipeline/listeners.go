package pipeline

import (
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/ajitpratap0/storage-mixpanel/pkg/events"
)

// attachTimers starts and stops the stage timers from lifecycle events.
func attachTimers(bus *events.Bus, stats *Stats) {
	pairs := []struct {
		start, end events.Name
		timer      string
	}{
		{events.MetaStart, events.MetaEnd, TimerEnumeration},
		{events.DownloadStart, events.DownloadEnd, TimerDownload},
		{events.UploadStart, events.UploadEnd, TimerUpload},
	}
	bus.On(events.DownloadStart, func(e events.Event) { stats.SetTotalBytes(e.Size) })
	for _, p := range pairs {
		timer := p.timer
		bus.Once(p.start, func(events.Event) { stats.Start(timer) })
		bus.Once(p.end, func(events.Event) { stats.Stop(timer) })
	}
}

// attachLogging reports progress through the run logger.
func attachLogging(bus *events.Bus, log *zap.Logger) {
	bus.On(events.MetaEnd, func(e events.Event) {
		if e.Err == nil {
			log.Info("listed objects", zap.String("pattern", e.Object), zap.Int("objects", e.Count))
		}
	})
	bus.On(events.DownloadStart, func(e events.Event) {
		log.Info("download started",
			zap.Int("objects", e.Count),
			zap.String("total", humanize.Bytes(uint64(e.Size))))
	})
	bus.On(events.FileDownloadEnd, func(e events.Event) {
		if e.Err != nil {
			log.Error("download failed", zap.String("object", e.Object), zap.Error(e.Err))
			return
		}
		log.Debug("downloaded object",
			zap.String("object", e.Object),
			zap.String("size", humanize.Bytes(uint64(e.Size))))
	})
	bus.On(events.DownloadEnd, func(e events.Event) {
		if e.Err != nil {
			log.Warn("download stage stopped", zap.Int("finished", e.Count), zap.Error(e.Err))
			return
		}
		log.Info("download complete", zap.Int("objects", e.Count))
	})
	bus.Once(events.Batch, func(e events.Event) {
		log.Info("first batch delivered", zap.Int("records", e.Count))
	})
	bus.On(events.Batch, func(e events.Event) {
		if e.Err != nil {
			log.Warn("batch had failures", zap.Int("records", e.Count), zap.Error(e.Err))
		}
	})
	bus.On(events.FileDeleteEnd, func(e events.Event) {
		if e.Err != nil {
			log.Warn("delete failed", zap.String("object", e.Object), zap.Error(e.Err))
		}
	})
	bus.On(events.UploadEnd, func(e events.Event) {
		log.Info("upload complete", zap.Int("success", e.Count), zap.Error(e.Err))
	})
}

//go:build !linux

package sysd

func NotifyReady()    {}
func NotifyStopping() {}

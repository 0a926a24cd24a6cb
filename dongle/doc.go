// Package dongle drives a USB CarPlay/Android Auto dongle.
//
// A [Session] owns one attachment to an opened [usb.Device]. Its lifecycle
// is
//
//	Unattached -> Initialising -> Ready -> Streaming -> Closing -> Closed
//
// with Failed reachable from Initialising and Streaming. Initialise claims
// the bulk endpoint pair, Start sends the configuration burst and the
// connect command and then runs the receive loop and the heartbeat. Every
// receive error counts toward [MaxErrorCount]; reaching it force-closes the
// session with a single [EventFailure].
//
// A [Driver] creates sessions, traces their setup, fans events out to
// subscribers, and requests keyframes while a phone is plugged.
//
// Basic usage:
//
//	backend := usbfs.New()
//	dev, _, err := dongle.OpenFirst(ctx, backend)
//	if err != nil {
//	    return err
//	}
//	drv := dongle.NewDriver(config.Default())
//	drv.Subscribe(dongle.HandlerFunc(func(ev dongle.Event) {
//	    if v, ok := ev.Message.(*protocol.VideoData); ok {
//	        decoder.Push(v.Data)
//	    }
//	}))
//	if err := drv.Connect(ctx, dev); err != nil {
//	    return err
//	}
//	defer drv.Close()
package dongle

package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/imulink/internal/address"
	"github.com/srg/imulink/internal/device"
	"github.com/srg/imulink/internal/groutine"
	"github.com/srg/imulink/internal/protocol"
	"github.com/srg/imulink/internal/session"
	"github.com/srg/imulink/pkg/config"
)

// Controller runs device workflows and owns all session state.
//
// Workflows for one address are serialized; different addresses proceed
// concurrently. Results are pulled with PollDevices and PollSamples.
type Controller struct {
	cfg       *config.Config
	transport device.Transport
	logger    *logrus.Logger

	registry  *session.Registry
	scans     *session.ScanBuffer
	samples   *session.SampleBuffer
	decoder   *protocol.Decoder
	sequencer *protocol.Sequencer
	pool      *groutine.Pool

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	// locks holds an entry only while a workflow for the address runs or waits.
	locksMu sync.Mutex
	locks   map[address.Addr]*addrLock

	states *stateTable

	scanMu     sync.Mutex
	scanCancel context.CancelFunc
	scanDone   chan struct{}
}

// New creates a Controller. A nil cfg uses the defaults and a nil logger gets a
// default one.
func New(transport device.Transport, cfg *config.Config, logger *logrus.Logger) *Controller {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		registry:  session.NewRegistry(),
		scans:     session.NewScanBuffer(),
		samples:   session.NewSampleBuffer(),
		decoder:   &protocol.Decoder{KeepUnknown: cfg.Protocol.KeepUnknownFrames},
		sequencer: protocol.NewSequencer(logger),
		pool:      groutine.NewPool(context.Background(), cfg.RPC.Workers),
		sleep:     protocol.Sleep,
		locks:     make(map[address.Addr]*addrLock),
		states:    newStateTable(),
	}
}

// Go runs fn on the workflow pool. Close cancels fn's context and waits for it.
func (c *Controller) Go(name string, fn func(ctx context.Context)) error {
	return c.pool.Submit(name, fn)
}

type addrLock struct {
	mu   sync.Mutex
	refs int
}

// lock serializes workflows for addr and returns the matching unlock. The
// entry is dropped once no workflow holds or waits for it.
func (c *Controller) lock(addr address.Addr) (unlock func()) {
	c.locksMu.Lock()
	l, ok := c.locks[addr]
	if !ok {
		l = &addrLock{}
		c.locks[addr] = l
	}
	l.refs++
	c.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, addr)
		}
		c.locksMu.Unlock()
	}
}

// withTimeout bounds a single transport round-trip.
func (c *Controller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.Transport.Timeout)
}

// transportFault classifies a failed transport call: an expired round-trip
// becomes ErrTransportTimeout, anything else ErrTransport.
func transportFault(err error, format string, args ...any) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return device.Fail(device.KindTransportTimeout, err, format, args...)
	}
	if device.KindOf(err) != "" {
		return err
	}
	return device.Fail(device.KindTransport, err, format, args...)
}

// lookupFault classifies a failed service or characteristic lookup as kind,
// unless the round-trip expired.
func lookupFault(kind device.Kind, err error, format string, args ...any) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return device.Fail(device.KindTransportTimeout, err, format, args...)
	}
	return device.Fail(kind, err, format, args...)
}

// Connect resolves the device, its vendor service and both vendor
// characteristics, and stores the session. An existing session for addr is
// released once the new one is stored. On failure nothing is stored and the
// resolved handle is closed.
func (c *Controller) Connect(ctx context.Context, addr address.Addr) error {
	defer c.lock(addr)()

	id := uuid.New()
	logger := c.logger.WithFields(logrus.Fields{
		"address": addr.String(),
		"session": id.String(),
	})
	logger.Info("Connecting to device...")

	prevState := c.states.set(addr, StateConnecting)
	s, err := c.establish(ctx, addr, logger)
	if err != nil {
		logger.WithError(err).Warn("Connect failed")
		if prevState == StateConnected || prevState == StateSensing {
			c.states.set(addr, prevState)
		} else {
			c.states.set(addr, StateDisconnected)
		}
		return err
	}
	s.ID = id

	if prev := c.registry.Put(s); prev != nil {
		logger.Info("Replacing existing session")
		c.release(prev, logger)
	}
	c.states.set(addr, StateConnected)
	logger.Info("Device connected")
	return nil
}

func (c *Controller) establish(ctx context.Context, addr address.Addr, logger *logrus.Entry) (_ *session.Session, err error) {
	tctx, cancel := c.withTimeout(ctx)
	peer, err := c.transport.Resolve(tctx, addr)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, device.Fail(device.KindTransportTimeout, err, "resolve %s", addr)
		}
		return nil, device.Fail(device.KindConnectFailed, err, "resolve %s", addr)
	}
	if peer == nil {
		return nil, device.Fail(device.KindConnectFailed, nil, "no device with address %s", addr)
	}
	defer func() {
		if err != nil {
			if cerr := peer.Close(); cerr != nil {
				logger.WithError(cerr).Debug("Failed to release device handle")
			}
		}
	}()
	logger.Debug("Device handle resolved")

	if err := c.sleep(ctx, c.cfg.Transport.SettleDelay); err != nil {
		return nil, transportFault(err, "connect interrupted")
	}

	serviceUUID := c.cfg.Protocol.ServiceUUID
	tctx, cancel = c.withTimeout(ctx)
	svcs, err := peer.Services(tctx, serviceUUID)
	cancel()
	if err != nil {
		return nil, lookupFault(device.KindServiceNotFound, err, "discover service %s", serviceUUID)
	}
	if len(svcs) == 0 {
		return nil, device.Fail(device.KindServiceNotFound,
			&device.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}, "")
	}
	svc := svcs[0]
	logger.WithField("service", svc.UUID()).Debug("Vendor service resolved")

	if err := c.sleep(ctx, c.cfg.Transport.SettleDelay); err != nil {
		return nil, transportFault(err, "connect interrupted")
	}

	notify, err := c.characteristic(ctx, svc, serviceUUID, c.cfg.Protocol.NotifyUUID)
	if err != nil {
		return nil, err
	}
	write, err := c.characteristic(ctx, svc, serviceUUID, c.cfg.Protocol.WriteUUID)
	if err != nil {
		return nil, err
	}

	return &session.Session{
		Address: addr,
		Peer:    peer,
		Notify:  notify,
		Write:   write,
	}, nil
}

func (c *Controller) characteristic(ctx context.Context, svc device.Service, serviceUUID, charUUID string) (device.Characteristic, error) {
	tctx, cancel := c.withTimeout(ctx)
	defer cancel()

	chars, err := svc.Characteristics(tctx, charUUID)
	if err != nil {
		return nil, lookupFault(device.KindCharacteristicNotFound, err, "discover characteristic %s", charUUID)
	}
	if len(chars) == 0 {
		return nil, device.Fail(device.KindCharacteristicNotFound,
			&device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}, "")
	}
	return chars[0], nil
}

// release tears down a session that is no longer registered.
func (c *Controller) release(s *session.Session, logger *logrus.Entry) {
	ctx, cancel := c.withTimeout(context.Background())
	defer cancel()

	if s.Subscription != nil {
		if err := s.Subscription.Unsubscribe(ctx); err != nil {
			logger.WithError(err).Debug("Unsubscribe failed")
		}
	}
	if err := s.Peer.Close(); err != nil {
		logger.WithError(err).Debug("Failed to release device handle")
	}
}

// StartSensors subscribes to notifications and arms the sensor. Decoded
// samples accumulate until PollSamples.
func (c *Controller) StartSensors(ctx context.Context, addr address.Addr) error {
	defer c.lock(addr)()

	s, err := c.registry.Get(addr)
	if err != nil {
		return err
	}

	logger := c.logger.WithFields(logrus.Fields{
		"address": addr.String(),
		"session": s.ID.String(),
	})
	logger.Info("Starting sensors...")

	if s.Subscription != nil {
		logger.Debug("Replacing active subscription")
		c.unsubscribe(s.Subscription, logger)
		c.registry.AttachSubscription(addr, nil)
	}

	tctx, cancel := c.withTimeout(ctx)
	sub, err := s.Notify.Subscribe(tctx, c.frameHandler(addr, logger))
	cancel()
	if err != nil {
		return device.Fail(device.KindStartFailed, transportFault(err, "subscribe"), "")
	}

	if err := c.arm(ctx, s); err != nil {
		c.unsubscribe(sub, logger)
		return device.Fail(device.KindStartFailed, err, "")
	}

	c.registry.AttachSubscription(addr, sub)
	c.states.set(addr, StateSensing)
	logger.Info("Sensors started")
	return nil
}

func (c *Controller) arm(ctx context.Context, s session.Session) error {
	tctx, cancel := c.withTimeout(ctx)
	err := s.Notify.EnableNotify(tctx)
	cancel()
	if err != nil {
		return transportFault(err, "enable notifications")
	}

	if err := c.sleep(ctx, c.cfg.Protocol.SubscribeDelay); err != nil {
		return transportFault(err, "start interrupted")
	}

	steps := protocol.ArmSequence(c.cfg.Protocol.CommandDelay)
	if err := c.sequencer.Run(ctx, c.writer(s.Write), steps); err != nil {
		return transportFault(err, "arm sensor")
	}
	return nil
}

// writer bounds every command write by the transport timeout.
func (c *Controller) writer(ch device.CharacteristicWriter) protocol.Writer {
	return protocol.WriterFunc(func(ctx context.Context, data []byte) error {
		tctx, cancel := c.withTimeout(ctx)
		defer cancel()
		return ch.Write(tctx, data)
	})
}

func (c *Controller) unsubscribe(sub device.Subscription, logger *logrus.Entry) {
	ctx, cancel := c.withTimeout(context.Background())
	defer cancel()
	if err := sub.Unsubscribe(ctx); err != nil {
		logger.WithError(err).Debug("Unsubscribe failed")
	}
}

// frameHandler decodes notification frames of addr into the sample buffer.
func (c *Controller) frameHandler(addr address.Addr, logger *logrus.Entry) func([]byte) {
	return func(frame []byte) {
		sample, ok := c.decoder.Decode(frame)
		if !ok {
			if logger.Logger.IsLevelEnabled(logrus.DebugLevel) {
				logger.WithField("frame", fmt.Sprintf("% X", frame)).Debug("Frame dropped")
			}
			return
		}
		c.samples.Append(addr, sample)
	}
}

// StopSensors unsubscribes and disarms the sensor. Failures, including an
// unknown address, are logged and otherwise ignored.
func (c *Controller) StopSensors(ctx context.Context, addr address.Addr) error {
	defer c.lock(addr)()

	logger := c.logger.WithField("address", addr.String())

	s, err := c.registry.Get(addr)
	if err != nil {
		logger.WithError(err).Debug("Stop sensors ignored")
		return nil
	}
	logger = logger.WithField("session", s.ID.String())
	logger.Info("Stopping sensors...")

	if s.Subscription != nil {
		c.unsubscribe(s.Subscription, logger)
		c.registry.AttachSubscription(addr, nil)
	}

	if err := c.sequencer.Run(ctx, c.writer(s.Write), protocol.DisarmSequence()); err != nil {
		logger.WithError(err).Debug("Disarm failed")
	}

	c.states.set(addr, StateConnected)
	logger.Info("Sensors stopped")
	return nil
}

// Disconnect removes the session and releases its handle. Samples not yet
// polled stay available to PollSamples. An unknown address is not an error.
func (c *Controller) Disconnect(ctx context.Context, addr address.Addr) error {
	defer c.lock(addr)()

	logger := c.logger.WithField("address", addr.String())

	s, err := c.registry.Remove(addr)
	if err != nil {
		logger.WithError(err).Debug("Disconnect ignored")
		return nil
	}
	logger = logger.WithField("session", s.ID.String())

	c.release(s, logger)
	c.states.set(addr, StateDisconnected)
	logger.Info("Device disconnected")
	return nil
}

// StartScanning starts the advertisement listener. It is a no-op while a
// listener is running.
func (c *Controller) StartScanning() error {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	if c.scanCancel != nil {
		c.logger.Debug("Scan already running")
		return nil
	}

	ctx, cancel := context.WithCancel(c.pool.Context())
	done := make(chan struct{})
	c.scanCancel = cancel
	c.scanDone = done

	groutine.Go(ctx, "scan-listener", func(ctx context.Context) {
		defer close(done)
		defer c.clearScan(done)

		c.logger.WithField("marker", c.cfg.Scan.VendorMarker).Info("Scanning started")
		err := c.transport.Scan(ctx, c.cfg.Scan.AllowDuplicates, c.advertisementHandler(ctx))
		if err != nil {
			c.logger.WithError(err).Warn("Scan stopped with error")
			return
		}
		c.logger.Info("Scanning stopped")
	})
	return nil
}

// clearScan forgets the listener identified by done if it is still current.
func (c *Controller) clearScan(done chan struct{}) {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	if c.scanDone == done {
		c.scanCancel()
		c.scanCancel = nil
		c.scanDone = nil
	}
}

// StopScanning stops the listener and waits for it to exit.
func (c *Controller) StopScanning() error {
	c.scanMu.Lock()
	cancel, done := c.scanCancel, c.scanDone
	c.scanCancel, c.scanDone = nil, nil
	c.scanMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// advertisementHandler filters advertisements by vendor marker into the scan
// buffer. Faults are logged and the advertisement dropped.
func (c *Controller) advertisementHandler(ctx context.Context) func(device.Advertisement) {
	marker := c.cfg.Scan.VendorMarker
	return func(adv device.Advertisement) {
		logger := c.logger.WithField("address", adv.Addr())

		addr, err := address.Parse(adv.Addr())
		if err != nil {
			logger.WithError(err).Debug("Advertisement skipped")
			return
		}

		name := adv.LocalName()
		if name == "" {
			name = c.resolveName(ctx, addr, logger)
		}
		if !strings.Contains(name, marker) {
			return
		}

		logger.WithFields(logrus.Fields{
			"name": name,
			"rssi": adv.RSSI(),
		}).Debug("Device discovered")
		c.scans.Append(session.DiscoveredDevice{Name: name, Address: addr, RSSI: adv.RSSI()})
		c.states.discover(addr)
	}
}

// resolveName reads the name through a transient handle that is released
// before returning.
func (c *Controller) resolveName(ctx context.Context, addr address.Addr, logger *logrus.Entry) string {
	tctx, cancel := c.withTimeout(ctx)
	defer cancel()

	peer, err := c.transport.Resolve(tctx, addr)
	if err != nil || peer == nil {
		if err != nil {
			logger.WithError(err).Debug("Name resolution failed")
		}
		return ""
	}
	defer func() {
		if err := peer.Close(); err != nil {
			logger.WithError(err).Debug("Failed to release transient handle")
		}
	}()
	name, err := peer.Name(tctx)
	if err != nil {
		logger.WithError(err).Debug("Device name read failed")
	}
	return name
}

// PollDevices drains the devices discovered since the previous call.
func (c *Controller) PollDevices() []session.DiscoveredDevice {
	return c.scans.Drain()
}

// PollSamples drains the samples decoded for addr since the previous call.
func (c *Controller) PollSamples(addr address.Addr) []protocol.MotionSample {
	return c.samples.Drain(addr)
}

// State returns the lifecycle state of addr.
func (c *Controller) State(addr address.Addr) State {
	return c.states.get(addr)
}

// Close stops scanning, cancels and joins running workflows and releases
// every session.
func (c *Controller) Close() error {
	_ = c.StopScanning()
	c.pool.Close()

	sessions := c.registry.Drain()
	for _, s := range sessions {
		logger := c.logger.WithFields(logrus.Fields{
			"address": s.Address.String(),
			"session": s.ID.String(),
		})
		c.release(s, logger)
		c.states.set(s.Address, StateDisconnected)
	}
	if len(sessions) > 0 {
		c.logger.WithField("sessions", len(sessions)).Info("Released sessions")
	}
	return nil
}

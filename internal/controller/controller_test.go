package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/imulink/internal/address"
	"github.com/srg/imulink/internal/device"
	"github.com/srg/imulink/internal/testutils"
	"github.com/srg/imulink/pkg/config"
	"github.com/stretchr/testify/suite"
)

var (
	sensorAddr = address.MustParse("AA:BB:CC:DD:EE:01")
	otherAddr  = address.MustParse("AA:BB:CC:DD:EE:02")

	armFrames = [][]byte{
		{0x55, 0xAA, 0xF0, 0x00},
		{0x55, 0xAA, 0x11, 0x02, 0x00, 0x02},
		{0x55, 0xAA, 0x0A, 0x00},
		{0x55, 0xAA, 0x08, 0x00},
		{0x55, 0xAA, 0x06, 0x00},
	}
	disarmFrame = []byte{0x55, 0xAA, 0xF0, 0x00}
)

type ControllerTestSuite struct {
	suite.Suite
	logger    *logrus.Logger
	cfg       *config.Config
	transport *testutils.FakeTransport
	sensor    *testutils.FakePeer
	ctrl      *Controller

	sleepMu sync.Mutex
	sleeps  []time.Duration
}

func (s *ControllerTestSuite) SetupTest() {
	s.logger = logrus.New()
	s.logger.SetLevel(logrus.PanicLevel)
	s.cfg = testutils.FastConfig()
	s.sensor = testutils.CreateMotionSensor(sensorAddr.String(), "GMSync-IMU").Build()
	s.transport = testutils.NewFakeTransport().WithPeer(s.sensor)
	s.sleeps = nil
	s.ctrl = s.newController()
}

func (s *ControllerTestSuite) TearDownTest() {
	s.NoError(s.ctrl.Close())
}

func (s *ControllerTestSuite) newController() *Controller {
	c := New(s.transport, s.cfg, s.logger)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		s.sleepMu.Lock()
		s.sleeps = append(s.sleeps, d)
		s.sleepMu.Unlock()
		return ctx.Err()
	}
	return c
}

// reconfigure replaces the suite controller after s.cfg was changed.
func (s *ControllerTestSuite) reconfigure() {
	s.NoError(s.ctrl.Close())
	s.ctrl = s.newController()
}

func (s *ControllerTestSuite) recordedSleeps() []time.Duration {
	s.sleepMu.Lock()
	defer s.sleepMu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

func (s *ControllerTestSuite) connectAndStart() {
	s.Require().NoError(s.ctrl.Connect(context.Background(), sensorAddr))
	s.Require().NoError(s.ctrl.StartSensors(context.Background(), sensorAddr))
}

// --- Connect ---

func (s *ControllerTestSuite) TestConnectSuccess() {
	// GOAL: Verify a full connect stores a session and leaves exactly one open handle
	//
	// TEST SCENARIO: device with vendor profile → Connect → Connected, session stored

	s.Require().NoError(s.ctrl.Connect(context.Background(), sensorAddr))

	s.Equal(StateConnected, s.ctrl.State(sensorAddr))
	sess, err := s.ctrl.registry.Get(sensorAddr)
	s.Require().NoError(err)
	s.Equal(sensorAddr, sess.Address)
	s.Equal("b3a1", sess.Notify.UUID())
	s.Equal("b3a2", sess.Write.UUID())
	s.Equal(1, s.sensor.OpenConns())
	s.Empty(s.sensor.Writes(), "MUST not write during connect")
}

func (s *ControllerTestSuite) TestConnectSettlePauses() {
	s.cfg.Transport.SettleDelay = 500 * time.Millisecond
	s.reconfigure()

	s.Require().NoError(s.ctrl.Connect(context.Background(), sensorAddr))
	s.Equal([]time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, s.recordedSleeps(),
		"MUST pause after handle resolution and after service resolution")
}

func (s *ControllerTestSuite) TestConnectUnknownDevice() {
	err := s.ctrl.Connect(context.Background(), otherAddr)

	s.ErrorIs(err, device.ErrConnectFailed)
	s.Equal(0, s.ctrl.registry.Len())
	s.Equal(StateDisconnected, s.ctrl.State(otherAddr))
}

func (s *ControllerTestSuite) TestConnectResolveError() {
	s.sensor.FailOn(testutils.OpResolve, errors.New("adapter busy"))

	err := s.ctrl.Connect(context.Background(), sensorAddr)
	s.ErrorIs(err, device.ErrConnectFailed)
	s.Contains(err.Error(), "adapter busy")
}

func (s *ControllerTestSuite) TestConnectFailuresReleaseHandle() {
	// GOAL: Verify every connect failure after resolution closes the handle and stores nothing
	//
	// TEST SCENARIO: each device misses part of the profile or faults its lookup → matching error kind, no open handle

	tests := []struct {
		name    string
		builder *testutils.PeripheralDeviceBuilder
		fail    string
		want    error
	}{
		{
			name:    "no vendor service",
			builder: testutils.NewPeripheralDeviceBuilder().WithService("180f").WithCharacteristic("2a19"),
			want:    device.ErrServiceNotFound,
		},
		{
			name: "no notify characteristic",
			builder: testutils.NewPeripheralDeviceBuilder().
				WithService(testutils.VendorServiceUUID).WithCharacteristic(testutils.VendorWriteUUID),
			want: device.ErrCharacteristicNotFound,
		},
		{
			name: "no write characteristic",
			builder: testutils.NewPeripheralDeviceBuilder().
				WithService(testutils.VendorServiceUUID).WithCharacteristic(testutils.VendorNotifyUUID),
			want: device.ErrCharacteristicNotFound,
		},
		{
			name:    "service discovery fault",
			builder: testutils.NewPeripheralDeviceBuilder().WithVendorProfile(),
			fail:    testutils.OpServices,
			want:    device.ErrServiceNotFound,
		},
		{
			name:    "characteristic discovery fault",
			builder: testutils.NewPeripheralDeviceBuilder().WithVendorProfile(),
			fail:    testutils.OpCharacteristics,
			want:    device.ErrCharacteristicNotFound,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			peer := tt.builder.WithAddress(otherAddr.String()).Build()
			if tt.fail != "" {
				peer.FailOn(tt.fail, errors.New("gatt fault"))
			}
			s.transport.WithPeer(peer)

			err := s.ctrl.Connect(context.Background(), otherAddr)
			s.ErrorIs(err, tt.want)
			if tt.fail != "" {
				s.ErrorContains(err, "gatt fault", "lookup fault MUST keep its cause")
			}
			s.Equal(0, peer.OpenConns(), "MUST release the resolved handle")
			_, gerr := s.ctrl.registry.Get(otherAddr)
			s.ErrorIs(gerr, device.ErrNotConnected, "MUST not store a session")
		})
	}
}

func (s *ControllerTestSuite) TestConnectTimeout() {
	// GOAL: Verify a hung transport call surfaces as a transport timeout
	//
	// TEST SCENARIO: service discovery never returns → ErrTransportTimeout after the configured timeout

	s.cfg.Transport.Timeout = 30 * time.Millisecond
	s.reconfigure()
	s.sensor.BlockOn(testutils.OpServices)

	err := s.ctrl.Connect(context.Background(), sensorAddr)
	s.ErrorIs(err, device.ErrTransportTimeout)
	s.Equal(device.KindTransportTimeout, device.KindOf(err))
	s.Equal(0, s.sensor.OpenConns())
}

func (s *ControllerTestSuite) TestReconnectReleasesPreviousHandle() {
	// GOAL: Verify connecting twice does not leak the first handle
	//
	// TEST SCENARIO: Connect → Connect → first handle closed, one session, one open handle

	s.Require().NoError(s.ctrl.Connect(context.Background(), sensorAddr))
	s.Require().NoError(s.ctrl.Connect(context.Background(), sensorAddr))

	conns := s.sensor.Conns()
	s.Require().Len(conns, 2)
	s.Equal(1, conns[0].Closes(), "MUST close the replaced handle")
	s.Equal(0, conns[1].Closes())
	s.Equal(1, s.ctrl.registry.Len())
}

func (s *ControllerTestSuite) TestFailedReconnectKeepsSession() {
	s.Require().NoError(s.ctrl.Connect(context.Background(), sensorAddr))
	s.sensor.FailOn(testutils.OpServices, errors.New("gatt fault"))

	s.Error(s.ctrl.Connect(context.Background(), sensorAddr))
	s.Equal(StateConnected, s.ctrl.State(sensorAddr))
	_, err := s.ctrl.registry.Get(sensorAddr)
	s.NoError(err)
}

// --- StartSensors ---

func (s *ControllerTestSuite) TestStartSensorsNotConnected() {
	err := s.ctrl.StartSensors(context.Background(), sensorAddr)

	s.ErrorIs(err, device.ErrNotConnected)
	s.Empty(s.sensor.Writes(), "MUST not write without a session")
}

func (s *ControllerTestSuite) TestStartSensorsArmsDevice() {
	// GOAL: Verify the arm sequence is written in order after subscribing
	//
	// TEST SCENARIO: Connect → StartSensors → subscribe, CCCD enable, 5 command frames

	s.cfg.Protocol.SubscribeDelay = 300 * time.Millisecond
	s.reconfigure()
	s.connectAndStart()

	s.Equal(armFrames, s.sensor.Writes())
	subs, _, enables := s.sensor.Counts()
	s.Equal(1, subs)
	s.Equal(1, enables)
	s.Equal(1, s.sensor.Subscribers())
	s.Contains(s.recordedSleeps(), 300*time.Millisecond, "MUST pause after enabling notifications")
	s.Equal(StateSensing, s.ctrl.State(sensorAddr))

	sess, err := s.ctrl.registry.Get(sensorAddr)
	s.Require().NoError(err)
	s.NotNil(sess.Subscription)
}

func (s *ControllerTestSuite) TestSamplesAreDecodedAndDrained() {
	// GOAL: Verify notifications become scaled samples available exactly once
	//
	// TEST SCENARIO: accel, gyro, malformed and unknown frames → 2 samples, then empty

	s.connectAndStart()

	s.sensor.Notify(testutils.ReportFrame(0x08, 16384, 0, -32768))
	s.sensor.Notify(testutils.ReportFrame(0x0A, 28571, -28571, 0))
	s.sensor.Notify([]byte{0x55, 0xAA, 0x08})
	s.sensor.Notify(testutils.ReportFrame(0x42, 1, 2, 3))

	samples := s.ctrl.PollSamples(sensorAddr)
	s.Require().Len(samples, 2)

	s.InDelta(8.0, samples[0].AccelX, 1e-9)
	s.InDelta(0.0, samples[0].AccelY, 1e-9)
	s.InDelta(-16.0, samples[0].AccelZ, 1e-9)
	s.Zero(samples[0].GyroX)

	s.InDelta(500.0, samples[1].GyroX, 1e-9)
	s.InDelta(-500.0, samples[1].GyroY, 1e-9)
	s.Zero(samples[1].AccelX)
	s.Zero(samples[1].Temperature)
	s.GreaterOrEqual(samples[1].TimestampS, samples[0].TimestampS)

	s.Empty(s.ctrl.PollSamples(sensorAddr), "MUST return each sample once")
	s.Empty(s.ctrl.PollSamples(otherAddr))
}

func (s *ControllerTestSuite) TestKeepUnknownFrames() {
	s.cfg.Protocol.KeepUnknownFrames = true
	s.reconfigure()
	s.connectAndStart()

	s.sensor.Notify(testutils.ReportFrame(0x42, 1, 2, 3))

	samples := s.ctrl.PollSamples(sensorAddr)
	s.Require().Len(samples, 1)
	s.Zero(samples[0].AccelX)
	s.Zero(samples[0].GyroX)
}

func (s *ControllerTestSuite) TestStartSensorsFailures() {
	tests := []struct {
		name string
		op   string
	}{
		{"subscribe fails", testutils.OpSubscribe},
		{"enable notify fails", testutils.OpEnableNotify},
		{"command write fails", testutils.OpWrite},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Require().NoError(s.ctrl.Connect(context.Background(), sensorAddr))
			s.sensor.FailOn(tt.op, errors.New("att error"))
			defer s.sensor.FailOn(tt.op, nil)

			err := s.ctrl.StartSensors(context.Background(), sensorAddr)
			s.ErrorIs(err, device.ErrStartFailed)
			s.Equal(device.KindStartFailed, device.KindOf(err))
			s.Equal(0, s.sensor.Subscribers(), "MUST not leave a dangling subscription")
		})
	}
}

func (s *ControllerTestSuite) TestRestartReplacesSubscription() {
	s.connectAndStart()
	s.Require().NoError(s.ctrl.StartSensors(context.Background(), sensorAddr))

	s.Equal(1, s.sensor.Subscribers())
	s.Equal(1, s.sensor.Notify(testutils.ReportFrame(0x08, 1, 1, 1)))
	s.Len(s.ctrl.PollSamples(sensorAddr), 1, "MUST not duplicate samples")
}

// --- StopSensors / Disconnect ---

func (s *ControllerTestSuite) TestStopSensors() {
	s.connectAndStart()
	s.sensor.ResetWrites()

	s.Require().NoError(s.ctrl.StopSensors(context.Background(), sensorAddr))

	s.Equal([][]byte{disarmFrame}, s.sensor.Writes())
	s.Equal(0, s.sensor.Subscribers())
	s.Equal(StateConnected, s.ctrl.State(sensorAddr))

	sess, err := s.ctrl.registry.Get(sensorAddr)
	s.Require().NoError(err)
	s.Nil(sess.Subscription)
}

func (s *ControllerTestSuite) TestStopSensorsTolerance() {
	// GOAL: Verify stop never fails, whatever the device does
	//
	// TEST SCENARIO: unknown address, failing unsubscribe, failing write → all succeed

	s.NoError(s.ctrl.StopSensors(context.Background(), otherAddr))

	s.connectAndStart()
	s.sensor.FailOn(testutils.OpUnsubscribe, errors.New("gone"))
	s.sensor.FailOn(testutils.OpWrite, errors.New("gone"))
	s.NoError(s.ctrl.StopSensors(context.Background(), sensorAddr))
}

func (s *ControllerTestSuite) TestDisconnect() {
	s.connectAndStart()
	s.sensor.Notify(testutils.ReportFrame(0x08, 1, 1, 1))

	s.Require().NoError(s.ctrl.Disconnect(context.Background(), sensorAddr))

	s.Equal(0, s.sensor.OpenConns(), "MUST release the handle")
	s.Equal(0, s.sensor.Subscribers())
	s.Equal(StateDisconnected, s.ctrl.State(sensorAddr))
	s.Len(s.ctrl.PollSamples(sensorAddr), 1, "MUST keep unpolled samples")
	s.Empty(s.ctrl.PollSamples(sensorAddr))

	s.ErrorIs(s.ctrl.StartSensors(context.Background(), sensorAddr), device.ErrNotConnected)
	s.NoError(s.ctrl.Disconnect(context.Background(), sensorAddr), "MUST tolerate absent sessions")
}

func (s *ControllerTestSuite) TestSamplesSurviveStopAndDisconnect() {
	// GOAL: Verify a pull-based caller drains the last batch after tearing the device down
	//
	// TEST SCENARIO: two reports, StopSensors, Disconnect → next poll returns both, the one after none

	s.connectAndStart()
	s.sensor.Notify(testutils.ReportFrame(0x08, 16384, 0, 0))
	s.sensor.Notify(testutils.ReportFrame(0x0A, 28571, 0, 0))

	s.Require().NoError(s.ctrl.StopSensors(context.Background(), sensorAddr))
	s.Require().NoError(s.ctrl.Disconnect(context.Background(), sensorAddr))

	samples := s.ctrl.PollSamples(sensorAddr)
	s.Require().Len(samples, 2, "every decoded sample MUST reach exactly one poll")
	s.InDelta(8.0, samples[0].AccelX, 1e-9)
	s.InDelta(500.0, samples[1].GyroX, 1e-9)
	s.Empty(s.ctrl.PollSamples(sensorAddr), "MUST not duplicate samples")

	s.Equal(0, s.sensor.Notify(testutils.ReportFrame(0x08, 1, 1, 1)), "MUST not deliver after disconnect")
	s.Empty(s.ctrl.PollSamples(sensorAddr))
}

func (s *ControllerTestSuite) TestDisconnectToleratesCloseFailure() {
	s.Require().NoError(s.ctrl.Connect(context.Background(), sensorAddr))
	s.sensor.FailOn(testutils.OpClose, errors.New("already closed"))

	s.NoError(s.ctrl.Disconnect(context.Background(), sensorAddr))
	s.Equal(0, s.ctrl.registry.Len())
}

// --- Scanning ---

func (s *ControllerTestSuite) TestScanFiltersByVendorMarker() {
	// GOAL: Verify only vendor devices reach the scan buffer, in arrival order, with real RSSI
	//
	// TEST SCENARIO: named vendor, foreign, unnamed vendor (name via transient handle),
	// unnamed unknown and malformed advertisements → 2 devices

	unnamed := testutils.CreateMotionSensor(otherAddr.String(), "GMSync-2").Build()
	s.transport.
		WithPeer(unnamed).
		WithAdvertisement(testutils.CreateMockAdvertisement("GMSync-1", sensorAddr.String(), -41).Build()).
		WithAdvertisement(testutils.CreateMockAdvertisement("Headphones", "AA:BB:CC:DD:EE:03", -30).Build()).
		WithAdvertisement(testutils.CreateMockAdvertisement("", otherAddr.String(), -77).Build()).
		WithAdvertisement(testutils.CreateMockAdvertisement("", "AA:BB:CC:DD:EE:04", -60).Build()).
		WithAdvertisement(testutils.CreateMockAdvertisement("GMSync-5", "not-an-address", -60).Build())

	s.Require().NoError(s.ctrl.StartScanning())

	var found []string
	var rssi []int
	s.Eventually(func() bool {
		for _, d := range s.ctrl.PollDevices() {
			found = append(found, d.Name+"@"+d.Address.String())
			rssi = append(rssi, d.RSSI)
		}
		return len(found) >= 2
	}, time.Second, 5*time.Millisecond)

	s.Equal([]string{"GMSync-1@AA:BB:CC:DD:EE:01", "GMSync-2@AA:BB:CC:DD:EE:02"}, found)
	s.Equal([]int{-41, -77}, rssi)
	s.Equal(0, unnamed.OpenConns(), "MUST release transient handles")
	s.Equal(0, s.transport.ResolveCalls(sensorAddr), "MUST not resolve advertised names")
	s.Equal(StateDiscovered, s.ctrl.State(sensorAddr))

	s.Require().NoError(s.ctrl.StopScanning())
	s.False(s.transport.Scanning())
	s.Empty(s.ctrl.PollDevices())
}

func (s *ControllerTestSuite) TestStartScanningTwiceIsNoop() {
	s.Require().NoError(s.ctrl.StartScanning())
	s.Require().NoError(s.ctrl.StartScanning())

	s.Eventually(s.transport.Scanning, time.Second, 5*time.Millisecond)
	s.Equal(1, s.transport.ScanCalls())

	s.Require().NoError(s.ctrl.StopScanning())
	s.NoError(s.ctrl.StopScanning(), "MUST tolerate stopping twice")
}

func (s *ControllerTestSuite) TestScanErrorIsSwallowed() {
	s.transport.WithScanError(errors.New("bluetooth is turned off"))

	s.Require().NoError(s.ctrl.StartScanning())
	s.Eventually(func() bool {
		s.ctrl.scanMu.Lock()
		defer s.ctrl.scanMu.Unlock()
		return s.ctrl.scanCancel == nil
	}, time.Second, 5*time.Millisecond, "MUST clear a failed listener")

	s.Require().NoError(s.ctrl.StartScanning())
	s.Eventually(func() bool { return s.transport.ScanCalls() == 2 }, time.Second, 5*time.Millisecond)
}

// --- Concurrency / shutdown ---

func (s *ControllerTestSuite) TestWorkflowsForOneAddressAreSerialized() {
	// GOAL: Verify concurrent workflows on one device never interleave command frames
	//
	// TEST SCENARIO: two StartSensors run concurrently → writes are two whole arm sequences

	s.Require().NoError(s.ctrl.Connect(context.Background(), sensorAddr))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		s.Require().NoError(s.ctrl.Go("start", func(ctx context.Context) {
			defer wg.Done()
			s.NoError(s.ctrl.StartSensors(ctx, sensorAddr))
		}))
	}
	wg.Wait()

	s.Equal(append(append([][]byte{}, armFrames...), armFrames...), s.sensor.Writes())
	s.Equal(1, s.sensor.Subscribers())
}

func (s *ControllerTestSuite) TestWorkflowLocksArePruned() {
	// GOAL: Verify per-address workflow locks do not outlive their workflows
	//
	// TEST SCENARIO: failed connects to unknown addresses, a full lifecycle and concurrent
	// starts → no lock entries remain

	for i := 0; i < 3; i++ {
		addr := address.Addr(0xA0 + i)
		s.Error(s.ctrl.Connect(context.Background(), addr))
		s.NoError(s.ctrl.StopSensors(context.Background(), addr))
	}

	s.Require().NoError(s.ctrl.Connect(context.Background(), sensorAddr))
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		s.Require().NoError(s.ctrl.Go("start", func(ctx context.Context) {
			defer wg.Done()
			s.NoError(s.ctrl.StartSensors(ctx, sensorAddr))
		}))
	}
	wg.Wait()
	s.Require().NoError(s.ctrl.Disconnect(context.Background(), sensorAddr))

	s.ctrl.locksMu.Lock()
	defer s.ctrl.locksMu.Unlock()
	s.Empty(s.ctrl.locks, "MUST drop lock entries once no workflow needs them")
}

func (s *ControllerTestSuite) TestIndependentDevicesRunConcurrently() {
	second := testutils.CreateMotionSensor(otherAddr.String(), "GMSync-2").Build()
	s.transport.WithPeer(second)

	var wg sync.WaitGroup
	for _, addr := range []address.Addr{sensorAddr, otherAddr} {
		wg.Add(1)
		s.Require().NoError(s.ctrl.Go("workflow-"+addr.String(), func(ctx context.Context) {
			defer wg.Done()
			s.NoError(s.ctrl.Connect(ctx, addr))
			s.NoError(s.ctrl.StartSensors(ctx, addr))
		}))
	}
	wg.Wait()

	s.Equal(StateSensing, s.ctrl.State(sensorAddr))
	s.Equal(StateSensing, s.ctrl.State(otherAddr))

	second.Notify(testutils.ReportFrame(0x08, 1, 1, 1))
	s.Empty(s.ctrl.PollSamples(sensorAddr), "MUST keep samples per device")
	s.Len(s.ctrl.PollSamples(otherAddr), 1)
}

func (s *ControllerTestSuite) TestCloseReleasesEverything() {
	s.connectAndStart()
	s.Require().NoError(s.ctrl.StartScanning())

	s.Require().NoError(s.ctrl.Close())

	s.Equal(0, s.sensor.OpenConns())
	s.Equal(0, s.sensor.Subscribers())
	s.Equal(0, s.ctrl.registry.Len())
	s.False(s.transport.Scanning())
	s.Error(s.ctrl.Go("late", func(context.Context) {}), "MUST reject work after Close")
}

func TestControllerTestSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}

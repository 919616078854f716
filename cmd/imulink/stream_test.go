package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/srg/imulink/internal/address"
	"github.com/srg/imulink/internal/device"
	"github.com/srg/imulink/internal/protocol"
	"github.com/srg/imulink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type StreamTestSuite struct {
	suite.Suite
	sensor    *testutils.FakePeer
	transport *testutils.FakeTransport
}

func (s *StreamTestSuite) SetupTest() {
	s.sensor = testutils.CreateMotionSensor(TestDeviceAddress1, "GMSync-IMU").Build()
	s.transport = testutils.NewFakeTransport().WithPeer(s.sensor)
}

func (s *StreamTestSuite) newStreamer(out *syncBuffer, format string) *streamer {
	return &streamer{
		ctrl:     newTestController(s.T(), s.transport),
		addr:     address.MustParse(TestDeviceAddress1),
		interval: 10 * time.Millisecond,
		timeout:  time.Second,
		print:    sampleWriter(out, format),
		logger:   quietLogger(),
	}
}

// notifyOnceSubscribed pushes frames as soon as the stream subscribed, then cancels.
func (s *StreamTestSuite) notifyOnceSubscribed(cancel context.CancelFunc, frames ...[]byte) {
	go func() {
		defer cancel()
		deadline := time.Now().Add(2 * time.Second)
		for s.sensor.Subscribers() == 0 {
			if time.Now().After(deadline) {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		for _, f := range frames {
			s.sensor.Notify(f)
		}
		time.Sleep(50 * time.Millisecond)
	}()
}

func (s *StreamTestSuite) TestStreamPrintsSamplesAndTearsDown() {
	// GOAL: Verify a stream prints decoded samples and releases the device on exit
	//
	// TEST SCENARIO: Accel report arrives → text line printed → sensing stopped and handle closed

	var out syncBuffer
	st := s.newStreamer(&out, "text")

	ctx, cancel := context.WithCancel(context.Background())
	s.notifyOnceSubscribed(cancel, testutils.ReportFrame(0x08, 16384, 0, -32768))

	s.Require().NoError(st.Run(ctx), "cancellation MUST end the stream cleanly")

	s.Contains(out.String(), "acc    8.000    0.000  -16.000", "accel sample MUST be printed")
	s.Equal(0, s.sensor.OpenConns(), "stream MUST release the handle")
	s.Equal(0, s.sensor.Subscribers(), "stream MUST unsubscribe")
	s.Equal([]byte{0x55, 0xAA, 0xF0, 0x00}, s.sensor.Writes()[len(s.sensor.Writes())-1], "last write MUST disarm")
}

func (s *StreamTestSuite) TestStreamJSON() {
	var out syncBuffer
	st := s.newStreamer(&out, "json")

	ctx, cancel := context.WithCancel(context.Background())
	s.notifyOnceSubscribed(cancel, testutils.ReportFrame(0x0A, 28571, 0, 0))

	s.Require().NoError(st.Run(ctx))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	s.Require().Len(lines, 1, "one sample MUST produce one line")

	var sample protocol.MotionSample
	s.Require().NoError(json.Unmarshal([]byte(lines[0]), &sample))
	s.InDelta(500.0, sample.GyroX, 1e-9)
}

func (s *StreamTestSuite) TestStreamConnectFailure() {
	// GOAL: Verify a failed connect is reported and nothing is left open
	//
	// TEST SCENARIO: Unknown address → CONNECT_FAILED kind, no teardown writes

	var out syncBuffer
	st := s.newStreamer(&out, "text")
	st.addr = address.MustParse(TestDeviceAddress2)

	err := st.Run(context.Background())
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrConnectFailed)
	s.Empty(out.String())
}

func (s *StreamTestSuite) TestStreamRejectsBadAddress() {
	err := executeRoot(s.T(), nil, nil, "stream", "not-an-address")
	s.Require().Error(err)
	s.ErrorIs(err, address.ErrMalformedAddress)
}

func TestStreamTestSuite(t *testing.T) {
	suite.Run(t, new(StreamTestSuite))
}

package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/srg/imulink/internal/address"
	"github.com/srg/imulink/internal/session"
	"github.com/srg/imulink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ScanTestSuite struct {
	suite.Suite
}

func discovered(name, addr string, rssi int) session.DiscoveredDevice {
	return session.DiscoveredDevice{Name: name, Address: address.MustParse(addr), RSSI: rssi}
}

func (s *ScanTestSuite) TestResultsKeepFirstSeenOrder() {
	// GOAL: Verify repeated sightings refresh an entry without moving it
	//
	// TEST SCENARIO: A, B seen; A seen again stronger → order A, B with A's latest RSSI

	r := newScanResults()
	r.Add([]session.DiscoveredDevice{
		discovered("GMSync-A", TestDeviceAddress1, -60),
		discovered("GMSync-B", TestDeviceAddress2, -70),
	})
	r.Add([]session.DiscoveredDevice{discovered("GMSync-A", TestDeviceAddress1, -40)})

	s.Equal(2, r.Len(), "duplicates MUST collapse by address")

	var out bytes.Buffer
	s.Require().NoError(r.WriteTable(&out))
	testutils.NewTextAsserter(s.T()).Assert(out.String(), `
NAME      ADDRESS            RSSI
----      -------            ----
GMSync-A  AA:BB:CC:DD:EE:01  -40 dBm
GMSync-B  AA:BB:CC:DD:EE:02  -70 dBm
`)
}

func (s *ScanTestSuite) TestResultsJSON() {
	r := newScanResults()
	r.Add([]session.DiscoveredDevice{
		discovered("GMSync-A", TestDeviceAddress1, -60),
		discovered("GMSync-B", TestDeviceAddress2, -70),
	})

	var out bytes.Buffer
	s.Require().NoError(r.WriteJSON(&out))
	testutils.NewJSONAsserter(s.T()).Assert(out.String(), `[
		{"name": "GMSync-A", "address": "AA:BB:CC:DD:EE:01", "rssi": -60},
		{"name": "GMSync-B", "address": "AA:BB:CC:DD:EE:02", "rssi": -70}
	]`)
}

func (s *ScanTestSuite) TestEmptyResults() {
	var out bytes.Buffer
	s.Require().NoError(newScanResults().WriteTable(&out))
	s.Equal("No devices discovered\n", out.String())

	out.Reset()
	s.Require().NoError(newScanResults().WriteJSON(&out))
	s.JSONEq("[]", out.String(), "empty scan MUST encode as an empty array")
}

func (s *ScanTestSuite) TestCollectDevices() {
	// GOAL: Verify the scan loop reports vendor devices and stops scanning
	//
	// TEST SCENARIO: One vendor and one foreign advertisement → only the vendor device, scan stopped

	transport := testutils.NewFakeTransport().
		WithAdvertisement(testutils.CreateMockAdvertisement("GMSync-IMU", TestDeviceAddress1, -55).Build()).
		WithAdvertisement(testutils.CreateMockAdvertisement("Headphones", TestDeviceAddress2, -40).Build())
	ctrl := newTestController(s.T(), transport)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	results := newScanResults()
	s.Require().NoError(collectDevices(ctx, ctrl, results, 10*time.Millisecond))
	s.Equal([]session.DiscoveredDevice{discovered("GMSync-IMU", TestDeviceAddress1, -55)}, results.list())
	s.False(transport.Scanning(), "scan MUST be stopped when collection ends")
}

func (s *ScanTestSuite) TestScanCommand() {
	// GOAL: Verify the scan command end to end with a config file and JSON output

	transport := testutils.NewFakeTransport().
		WithAdvertisement(testutils.CreateMockAdvertisement("GMSync-IMU", TestDeviceAddress1, -55).Build())
	useTransport(s.T(), transport)

	var out bytes.Buffer
	s.Require().NoError(executeRoot(s.T(), nil, &out,
		"scan", "--config", writeFastConfig(s.T()), "-d", "300ms", "-f", "json"))
	testutils.NewJSONAsserter(s.T()).Assert(out.String(), `[
		{"name": "GMSync-IMU", "address": "AA:BB:CC:DD:EE:01", "rssi": -55}
	]`)
}

func (s *ScanTestSuite) TestScanRejectsFormat() {
	err := executeRoot(s.T(), nil, nil, "scan", "-f", "xml")
	s.Require().Error(err)
	s.Contains(err.Error(), "invalid format 'xml'")
}

func TestScanTestSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}

package telemetry

import (
	"errors"
	"math"
	"testing"

	"github.com/danmuck/osdkctl/internal/testutil/testlog"
)

func TestPackageRoundTripKeepsOrder(t *testing.T) {
	testlog.Start(t)
	in := []TopicValue{
		{TopicStatusFlight, FlightStatusInAir},
		{TopicGPSFused, GPSFused{Longitude: 2.1, Latitude: 0.39, Altitude: 12.5, VisibleSatellites: 14}},
		{TopicQuaternion, Quaternion{Q0: 1}},
		{TopicHeightFusion, float32(3.25)},
		{TopicBatteryInfo, BatteryInfo{CapacityMAh: 4500, VoltageMV: 15400, CurrentMA: -3200, Percentage: 87}},
	}
	topics := make([]TopicName, len(in))
	for i, tv := range in {
		topics[i] = tv.Topic
	}
	data, err := EncodePackage(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodePackage(topics, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d values, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].Topic != in[i].Topic || out[i].Value != in[i].Value {
			t.Fatalf("value %d: got %+v want %+v", i, out[i], in[i])
		}
	}
}

func TestDecodePackageLengthChecks(t *testing.T) {
	testlog.Start(t)
	topics := []TopicName{TopicStatusFlight, TopicHeightFusion}
	if _, err := DecodePackage(topics, []byte{1, 0, 0}); !errors.Is(err, ErrShortData) {
		t.Fatalf("expected ErrShortData, got %v", err)
	}
	if _, err := DecodePackage(topics, make([]byte, 6)); !errors.Is(err, ErrTrailingData) {
		t.Fatalf("expected ErrTrailingData, got %v", err)
	}
	if _, err := DecodeTopicList([]byte{1, 200}); !errors.Is(err, ErrUnknownTopic) {
		t.Fatalf("expected ErrUnknownTopic, got %v", err)
	}
}

func TestEncodeTopicTypeMismatch(t *testing.T) {
	testlog.Start(t)
	if _, err := EncodeTopic(TopicHeightFusion, 3.0); !errors.Is(err, ErrValueMismatch) {
		t.Fatalf("expected ErrValueMismatch, got %v", err)
	}
}

func TestCatalogLookup(t *testing.T) {
	testlog.Start(t)
	name, ok := ByLabel("gps_fused")
	if !ok || name != TopicGPSFused {
		t.Fatalf("ByLabel gps_fused: %v %v", name, ok)
	}
	if len(Catalog()) != 8 || Catalog()[0].Name != TopicQuaternion {
		t.Fatalf("unexpected catalog %+v", Catalog())
	}
	if TopicName(99).String() != "topic_99" {
		t.Fatalf("unexpected label %s", TopicName(99))
	}
}

func TestToEulerAngleYawOnly(t *testing.T) {
	testlog.Start(t)
	for _, deg := range []float64{0, 45, 90, -120, 179} {
		e := ToEulerAngle(QuaternionFromYaw(Deg2Rad(deg)))
		if math.Abs(Rad2Deg(e.Yaw)-deg) > 1e-3 {
			t.Fatalf("yaw %v: got %v", deg, Rad2Deg(e.Yaw))
		}
		if math.Abs(e.Roll) > 1e-6 || math.Abs(e.Pitch) > 1e-6 {
			t.Fatalf("yaw %v: unexpected roll/pitch %+v", deg, e)
		}
	}
}

func TestLocalOffsetInvertsOffsetGPS(t *testing.T) {
	testlog.Start(t)
	origin := GPSFused{Longitude: Deg2Rad(113.95), Latitude: Deg2Rad(22.54), Altitude: 10}
	target := OffsetGPS(origin, 12, -7)
	target.Altitude = 13
	d := LocalOffsetFromGPSOffset(target, origin)
	if math.Abs(float64(d.X)-12) > 1e-3 || math.Abs(float64(d.Y)+7) > 1e-3 || d.Z != 3 {
		t.Fatalf("unexpected offset %+v", d)
	}
}

func TestYawErrorWraps(t *testing.T) {
	testlog.Start(t)
	cases := []struct{ a, b, want float64 }{
		{10, 350, 20},
		{350, 10, -20},
		{90, 90, 0},
		{-170, 170, 20},
	}
	for _, c := range cases {
		if got := YawError(c.a, c.b); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("YawError(%v,%v)=%v want %v", c.a, c.b, got, c.want)
		}
	}
}

package boot

import "testing"

func TestParseCmdline(t *testing.T) {
	cl := ParseCmdline("root=sda1 quiet init=/sbin/init")
	if cl["root"] != "sda1" {
		t.Fatalf("expected root=sda1, got %q", cl["root"])
	}
	if cl["init"] != "/sbin/init" {
		t.Fatalf("expected init=/sbin/init, got %q", cl["init"])
	}
	if v, ok := cl["quiet"]; !ok || v != "" {
		t.Fatalf("expected bare flag quiet to map to empty string, got %q (present=%v)", v, ok)
	}
}

func TestParseCmdlineEmpty(t *testing.T) {
	cl := ParseCmdline("")
	if len(cl) != 0 {
		t.Fatalf("expected an empty command line to parse to an empty map, got %v", cl)
	}
}

func TestDeviceTableLookup(t *testing.T) {
	dt := NewDeviceTable(map[string]string{"root": "/tmp/root.img"})
	dev := dt.Lookup("root")
	if dev == nil {
		t.Fatalf("expected root device to be registered")
	}
	if dev.Path != "/tmp/root.img" {
		t.Fatalf("expected path /tmp/root.img, got %q", dev.Path)
	}
	if dt.Lookup("missing") != nil {
		t.Fatalf("expected an unregistered device name to return nil")
	}
}

func TestBootMissingRootKeyIsEinval(t *testing.T) {
	_, err := Boot(Cmdline_t{}, &Sequence_t{Devices: NewDeviceTable(nil)}, nil)
	if err == 0 {
		t.Fatalf("expected EINVAL with no root= key on the command line")
	}
}

func TestBootUnknownDeviceIsEnxio(t *testing.T) {
	_, err := Boot(Cmdline_t{"root": "nope"}, &Sequence_t{Devices: NewDeviceTable(nil)}, nil)
	if err == 0 {
		t.Fatalf("expected ENXIO for an unregistered root device")
	}
}

package pkg

import "testing"

func validConfig() *BootstrapConfig {
	return &BootstrapConfig{
		TargetPath:          "/dev/sdz",
		Hostname:            "host",
		Architecture:        "amd64",
		EtcResolvConfSource: "/etc/resolv.conf",
		BootloaderApproach:  BootloaderAuto,
	}
}

func TestBootstrapConfig_Validate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestBootstrapConfig_Validate_MissingFields(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*BootstrapConfig)
	}{
		{"target path", func(c *BootstrapConfig) { c.TargetPath = "" }},
		{"hostname", func(c *BootstrapConfig) { c.Hostname = "" }},
		{"architecture", func(c *BootstrapConfig) { c.Architecture = "" }},
		{"resolv conf source", func(c *BootstrapConfig) { c.EtcResolvConfSource = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected error when %s is missing", tc.name)
			}
		})
	}
}

func TestBootstrapConfig_Validate_RejectsUnknownBootloaderApproach(t *testing.T) {
	cfg := validConfig()
	cfg.BootloaderApproach = "made-up-approach"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown bootloader approach")
	}
}

func TestBootstrapConfig_Validate_RejectsShortDiskID(t *testing.T) {
	cfg := validConfig()
	cfg.DiskID = "abcd"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for a disk id shorter than 8 hex digits")
	}
}

func TestBootstrapConfig_Validate_AllowsEmptyDiskID(t *testing.T) {
	cfg := validConfig()
	cfg.DiskID = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestBootloaderApproach_UsesChroot(t *testing.T) {
	chroot := []BootloaderApproach{BootloaderChrootGrub2Device, BootloaderChrootGrub2Drive}
	host := []BootloaderApproach{BootloaderHostGrub2Device, BootloaderHostGrub2Drive, BootloaderAuto, BootloaderNone}

	for _, a := range chroot {
		if !a.usesChroot() {
			t.Errorf("%q should use chroot", a)
		}
	}
	for _, a := range host {
		if a.usesChroot() {
			t.Errorf("%q should not use chroot", a)
		}
	}
}

func TestBootloaderApproach_UsesDeviceMap(t *testing.T) {
	driveBased := []BootloaderApproach{BootloaderChrootGrub2Drive, BootloaderHostGrub2Drive}
	deviceBased := []BootloaderApproach{BootloaderChrootGrub2Device, BootloaderHostGrub2Device, BootloaderAuto, BootloaderNone}

	for _, a := range driveBased {
		if !a.usesDeviceMap() {
			t.Errorf("%q should use a device map", a)
		}
	}
	for _, a := range deviceBased {
		if a.usesDeviceMap() {
			t.Errorf("%q should not use a device map", a)
		}
	}
}

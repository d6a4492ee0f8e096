package security

import "testing"

func TestValidateURL(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public https", "https://media-upload.linkedin.com/dms-uploads/abc", false},
		{"empty", "", true},
		{"http scheme", "http://media-upload.linkedin.com/x", true},
		{"file scheme", "file:///etc/passwd", true},
		{"localhost", "https://localhost/upload", true},
		{"loopback ip", "https://127.0.0.1/upload", true},
		{"private ip", "https://10.1.2.3/upload", true},
		{"metadata ip", "https://169.254.169.254/latest/meta-data", true},
		{"ipv6 loopback", "https://[::1]/upload", true},
		{"public ip", "https://151.101.1.69/upload", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateURL(tc.url)
			if tc.wantErr && err == nil {
				t.Fatalf("expected %q to be rejected", tc.url)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected %q to pass, got %v", tc.url, err)
			}
		})
	}
}

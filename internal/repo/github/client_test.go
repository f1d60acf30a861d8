package github

import "testing"

func TestSplitFullName(t *testing.T) {
	cases := []struct {
		in        string
		wantOwner string
		wantName  string
		wantErr   bool
	}{
		{in: "relaycore/relay", wantOwner: "relaycore", wantName: "relay"},
		{in: "owner/name/extra", wantOwner: "owner", wantName: "name/extra"},
		{in: "no-slash", wantErr: true},
		{in: "/missing-owner", wantErr: true},
		{in: "missing-name/", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range cases {
		owner, name, err := splitFullName(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("splitFullName(%q): expected error, got owner=%q name=%q", tc.in, owner, name)
			}
			continue
		}
		if err != nil {
			t.Errorf("splitFullName(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if owner != tc.wantOwner || name != tc.wantName {
			t.Errorf("splitFullName(%q) = (%q, %q), want (%q, %q)", tc.in, owner, name, tc.wantOwner, tc.wantName)
		}
	}
}

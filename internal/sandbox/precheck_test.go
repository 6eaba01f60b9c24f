package sandbox

import "testing"

func TestPrecheck(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		wantOK    bool
		wantToken string
	}{
		{"clean arithmetic", "print(2+2)", true, ""},
		{"clean drawing", "s = canvas.new(64, 64)\ns:fill(255, 0, 0)\noutput.img = s", true, ""},
		{"require passes the scan (classified worker-side)", `require("os")`, true, ""},
		{"metatable walk", "local mt = getmetatable('')", false, "getmetatable"},
		{"environment swap", "setfenv(1, {})", false, "setfenv"},
		{"code loading", `load("print(1)")()`, false, "load("},
		{"string dump", "string.dump(print)", false, "string.dump"},
		{"debug surface", "debug.getinfo(1)", false, "debug."},
		{"package loader", "package.loaded", false, "package."},
		{"process escape", `os.execute("ls")`, false, "os.execute"},
		{"file io", `io.open("/etc/passwd")`, false, "io."},
		{"token inside a string still rejected", `print("getmetatable")`, false, "getmetatable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, ok := Precheck(tt.source)
			if ok != tt.wantOK {
				t.Fatalf("Precheck(%q) ok = %v, want %v", tt.source, ok, tt.wantOK)
			}
			if token != tt.wantToken {
				t.Errorf("token = %q, want %q", token, tt.wantToken)
			}
		})
	}
}

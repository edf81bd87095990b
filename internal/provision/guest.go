package provision

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Prompts and banners scraped from the FreeBSD serial console. The boot
// menu banner and login prompt are stable across releases; the uname line
// after login varies, so it is matched with a wildcard.
const (
	bootMenuBanner = "Welcome to FreeBSD"
	loginPrompt    = "login:"
	shellPrompt    = "root@"
	passwdPrompt   = "New Password:"
)

// quote renders s as a single-quoted POSIX shell word.
func quote(s string) (string, error) {
	return syntax.Quote(s, syntax.LangPOSIX)
}

// appendLine builds a command that appends a line to a file in the guest.
func appendLine(line, file string) (string, error) {
	q, err := quote(line)
	if err != nil {
		return "", fmt.Errorf("quote %q: %w", line, err)
	}
	return fmt.Sprintf("echo %s >> %s", q, file), nil
}

// rcConfLines are the rc.conf settings a CI guest needs: DHCP on the
// virtio NIC and sshd at boot.
var rcConfLines = []string{
	`ifconfig_vtnet0="DHCP"`,
	`sshd_enable="YES"`,
}

// sshdConfigLines open sshd up for the CI host. The guest is only
// reachable through the host-side port forward, so root login with an
// empty password is acceptable here and nowhere else.
var sshdConfigLines = []string{
	"PermitRootLogin yes",
	"PermitEmptyPasswords yes",
}

// networkCommands builds the console-phase command list that configures
// networking, sshd and the injected public key. authorizedKey may be empty
// when no key pair is in use.
func networkCommands(authorizedKey string) ([]string, error) {
	var cmds []string

	for _, line := range rcConfLines {
		cmd, err := appendLine(line, "/etc/rc.conf")
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	for _, line := range sshdConfigLines {
		cmd, err := appendLine(line, "/etc/ssh/sshd_config")
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}

	if key := strings.TrimSpace(authorizedKey); key != "" {
		q, err := quote(key)
		if err != nil {
			return nil, fmt.Errorf("quote authorized key: %w", err)
		}
		cmds = append(cmds,
			"mkdir -p /root/.ssh",
			"chmod 700 /root/.ssh",
			fmt.Sprintf("echo %s >> /root/.ssh/authorized_keys", q),
			"chmod 600 /root/.ssh/authorized_keys",
		)
	}

	cmds = append(cmds,
		"service netif restart",
		"service sshd start",
	)
	return cmds, nil
}

// installCommands builds the SSH-phase command list for a fresh guest:
// apply base system patches, then bootstrap pkg and install the build
// dependencies.
func installCommands(packages []string) []string {
	cmds := []string{
		"env PAGER=cat freebsd-update --not-running-from-cron fetch install",
		"env ASSUME_ALWAYS_YES=YES pkg bootstrap",
		"pkg update",
	}
	if len(packages) > 0 {
		cmds = append(cmds, "pkg install -y "+strings.Join(packages, " "))
	}
	return cmds
}

// updateCommands builds the SSH-phase command list for refreshing a cached
// guest after the tag snapshot changed.
func updateCommands(packages []string) []string {
	cmds := []string{
		"env PAGER=cat freebsd-update --not-running-from-cron fetch install",
		"pkg update",
		"pkg upgrade -y",
	}
	if len(packages) > 0 {
		cmds = append(cmds, "pkg install -y "+strings.Join(packages, " "))
	}
	return cmds
}

// tolerantCommand reports whether a non-zero exit from cmd should be
// treated as success. freebsd-update exits non-zero when there is nothing
// to patch, which for a CI image is the common case, not a failure.
func tolerantCommand(cmd string) bool {
	return strings.Contains(cmd, "freebsd-update")
}

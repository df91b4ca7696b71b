package policy

// DefaultPolicyYAML is the commented starter policy written by
// `opgate init-policy`. It demonstrates the full definition surface with a
// read-only operation and a confirmed mutating one.
const DefaultPolicyYAML = `# opgate policy
#
# Each entry whitelists one operation. Anything not listed here cannot be
# invoked. Later policy files override same-named entries wholesale.

operations:
  # Read-only example: show disk usage for a directory inside the allowed
  # roots. Path arguments are canonicalized and confined before execution.
  - name: disk_usage
    description: "Report disk usage for a directory"
    command: ["du", "-sh", "{target}"]
    timeout: 10s
    args:
      target:
        type: string
        required: true
        path: true

  # Mutating example: restart a systemd unit. Requires the caller to send
  # confirm: true; the first attempt is refused with needConfirm.
  - name: restart_service
    description: "Restart a systemd service unit"
    command: ["systemctl", "restart", "{unit}"]
    timeout: 30s
    mutates: true
    requires_confirm: true
    notify: [failure]
    args:
      unit:
        type: string
        required: true
        pattern: "^[a-z][a-z0-9@_.-]*\\.service$"
        max_len: 128

  # Disabled entries stay listed for visibility but are not callable.
  - name: reboot_host
    description: "Reboot the machine"
    command: ["systemctl", "reboot"]
    mutates: true
    requires_confirm: true
    enabled: false
`

package render

// MachineImage selects an AMI by owner account and name pattern.
type MachineImage struct {
	Owner       string
	NamePattern string
}

// DefaultOS is used for any OS selector not in the image table.
const DefaultOS = "ubuntu-20.04"

const (
	ownerCanonical = "099720109477"
	ownerCentOS    = "125523088429"
	ownerRedHat    = "309956199498"
	ownerAmazon    = "801119661308"
)

var machineImages = map[string]MachineImage{
	"ubuntu-20.04": {Owner: ownerCanonical, NamePattern: "ubuntu/images/hvm-ssd/ubuntu-focal-20.04-amd64-server-*"},
	"ubuntu-22.04": {Owner: ownerCanonical, NamePattern: "ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-amd64-server-*"},
	"centos-7":     {Owner: ownerCentOS, NamePattern: "CentOS Linux 7 x86_64 HVM EBS*"},
	"rhel-8":       {Owner: ownerRedHat, NamePattern: "RHEL-8*x86_64*"},
	"windows-2019": {Owner: ownerAmazon, NamePattern: "Windows_Server-2019-English-Full-Base-*"},
	"windows-2022": {Owner: ownerAmazon, NamePattern: "Windows_Server-2022-English-Full-Base-*"},
}

// LookupImage returns the image for an OS selector. Unknown selectors get the
// DefaultOS image; they are never rejected.
func LookupImage(os string) MachineImage {
	if img, ok := machineImages[os]; ok {
		return img
	}
	return machineImages[DefaultOS]
}

// IngressRule is one inbound security group rule.
type IngressRule struct {
	Port     int
	Protocol string
	CIDR     string
}

// DefaultSecurityProfile names the rule set used for unknown profiles.
const DefaultSecurityProfile = "default"

var (
	ruleSSH   = IngressRule{Port: 22, Protocol: "tcp", CIDR: "0.0.0.0/0"}
	ruleHTTP  = IngressRule{Port: 80, Protocol: "tcp", CIDR: "0.0.0.0/0"}
	ruleHTTPS = IngressRule{Port: 443, Protocol: "tcp", CIDR: "0.0.0.0/0"}
)

var securityProfiles = map[string][]IngressRule{
	"web":                  {ruleHTTP, ruleHTTPS, ruleSSH},
	"ssh":                  {ruleSSH},
	DefaultSecurityProfile: {ruleSSH, ruleHTTP},
}

// LookupIngress returns the inbound rules for a security profile, falling
// back to the default SSH+HTTP set for anything unrecognised.
func LookupIngress(profile string) []IngressRule {
	rules, ok := securityProfiles[profile]
	if !ok {
		rules = securityProfiles[DefaultSecurityProfile]
	}
	out := make([]IngressRule, len(rules))
	copy(out, rules)
	return out
}

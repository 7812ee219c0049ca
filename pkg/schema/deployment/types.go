// Package deployment defines the deployment request accepted by vmprov.
package deployment

// Provider identifies the cloud the infrastructure is rendered for.
type Provider string

const (
	ProviderAWS Provider = "aws"
)

// Config is the immutable input for a single deployment.
//
// Architecture fields are pointers so that an absent field can be told apart
// from a zero value: absence is always a configuration error.
type Config struct {
	Provider     Provider     `json:"selectedProvider" yaml:"selectedProvider" validate:"required"`
	Architecture Architecture `json:"architecture" yaml:"architecture"`
	Credentials  Credentials  `json:"credentials" yaml:"credentials"`
}

// Architecture describes the VMs to provision.
type Architecture struct {
	VMCount       *int    `json:"vmCount" yaml:"vmCount" validate:"required,min=1"`
	InstanceType  *string `json:"instanceType" yaml:"instanceType" validate:"required,min=1"`
	OS            *string `json:"os" yaml:"os" validate:"required"`
	Storage       *int    `json:"storage" yaml:"storage" validate:"required,min=1"`
	SecurityGroup *string `json:"securityGroup" yaml:"securityGroup" validate:"required"`
}

// Credentials is an opaque per-provider bundle, e.g. credentials["aws"]["accessKey"].
// Which keys are required depends on the provider.
type Credentials map[string]map[string]string

// For returns the credential bundle for a provider, or nil.
func (c Credentials) For(p Provider) map[string]string {
	if c == nil {
		return nil
	}
	return c[string(p)]
}

// Clone returns a deep copy, so resolved secrets never leak back into the
// caller's config.
func (c Credentials) Clone() Credentials {
	if c == nil {
		return nil
	}
	out := make(Credentials, len(c))
	for provider, bundle := range c {
		cp := make(map[string]string, len(bundle))
		for k, v := range bundle {
			cp[k] = v
		}
		out[provider] = cp
	}
	return out
}

// AWS credential keys.
const (
	AWSAccessKey = "accessKey"
	AWSSecretKey = "secretKey"
	AWSRegion    = "region"
)

// RequiredCredentialKeys lists the credential fields each provider needs.
var RequiredCredentialKeys = map[Provider][]string{
	ProviderAWS: {AWSAccessKey, AWSSecretKey, AWSRegion},
}

// Int and String are helpers for building configs in code.
func Int(v int) *int { return &v }

func String(v string) *string { return &v }

package render

import (
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/davidthor/vmprov/pkg/schema/deployment"
)

// userDataScript is passed through format() with the 1-based instance number.
const userDataScript = `#!/bin/bash
apt-get update
apt-get install -y nginx htop curl
systemctl start nginx
systemctl enable nginx
echo "<h1>MultiCloud VM Instance %d</h1>" > /var/www/html/index.html
echo "<p>Deployed via MultiCloud Provisioning System</p>" >> /var/www/html/index.html
echo "<p>Instance ID: $(curl -s http://169.254.169.254/latest/meta-data/instance-id)</p>" >> /var/www/html/index.html
`

var standardTags = []struct{ key, value string }{
	{"Environment", "Production"},
	{"ManagedBy", "MultiCloudProvisioning"},
}

type awsRenderer struct{}

func (awsRenderer) Provider() deployment.Provider {
	return deployment.ProviderAWS
}

func (awsRenderer) RenderMain(cfg *deployment.Config) []byte {
	arch := cfg.Architecture
	creds := cfg.Credentials.For(deployment.ProviderAWS)

	f := hclwrite.NewEmptyFile()
	root := f.Body()

	tf := root.AppendNewBlock("terraform", nil)
	reqs := tf.Body().AppendNewBlock("required_providers", nil)
	reqs.Body().SetAttributeValue("aws", providerSource("hashicorp/aws", "~> 5.0"))
	reqs.Body().SetAttributeValue("random", providerSource("hashicorp/random", "~> 3.0"))
	reqs.Body().SetAttributeValue("tls", providerSource("hashicorp/tls", "~> 4.0"))
	root.AppendNewline()

	prov := root.AppendNewBlock("provider", []string{"aws"}).Body()
	prov.SetAttributeRaw("access_key", expr("var.aws_access_key"))
	prov.SetAttributeRaw("secret_key", expr("var.aws_secret_key"))
	prov.SetAttributeRaw("region", expr("var.aws_region"))
	root.AppendNewline()

	appendVariable(root, "aws_access_key", "AWS Access Key", "string", cty.NilVal, true)
	appendVariable(root, "aws_secret_key", "AWS Secret Key", "string", cty.NilVal, true)
	appendVariable(root, "aws_region", "AWS Region", "string", cty.StringVal(creds[deployment.AWSRegion]), false)
	appendVariable(root, "vm_count", "Number of VMs to create", "number", cty.NumberIntVal(int64(*arch.VMCount)), false)
	appendVariable(root, "instance_type", "EC2 instance type", "string", cty.StringVal(*arch.InstanceType), false)
	appendVariable(root, "storage_size", "Storage size in GB", "number", cty.NumberIntVal(int64(*arch.Storage)), false)

	locals := root.AppendNewBlock("locals", nil).Body()
	locals.SetAttributeValue("user_data", cty.StringVal(userDataScript))
	root.AppendNewline()

	image := LookupImage(*arch.OS)
	ami := root.AppendNewBlock("data", []string{"aws_ami", "selected"}).Body()
	ami.SetAttributeValue("most_recent", cty.True)
	ami.SetAttributeValue("owners", cty.ListVal([]cty.Value{cty.StringVal(image.Owner)}))
	appendFilter(ami, "name", image.NamePattern)
	appendFilter(ami, "virtualization-type", "hvm")
	root.AppendNewline()

	sg := root.AppendNewBlock("resource", []string{"aws_security_group", "vm_sg"}).Body()
	sg.SetAttributeValue("name_prefix", cty.StringVal("multicloud-vm-"))
	sg.SetAttributeValue("description", cty.StringVal("Security group for multi-cloud VMs"))
	for _, rule := range LookupIngress(*arch.SecurityGroup) {
		in := sg.AppendNewBlock("ingress", nil).Body()
		in.SetAttributeValue("from_port", cty.NumberIntVal(int64(rule.Port)))
		in.SetAttributeValue("to_port", cty.NumberIntVal(int64(rule.Port)))
		in.SetAttributeValue("protocol", cty.StringVal(rule.Protocol))
		in.SetAttributeValue("cidr_blocks", cty.ListVal([]cty.Value{cty.StringVal(rule.CIDR)}))
	}
	eg := sg.AppendNewBlock("egress", nil).Body()
	eg.SetAttributeValue("from_port", cty.NumberIntVal(0))
	eg.SetAttributeValue("to_port", cty.NumberIntVal(0))
	eg.SetAttributeValue("protocol", cty.StringVal("-1"))
	eg.SetAttributeValue("cidr_blocks", cty.ListVal([]cty.Value{cty.StringVal("0.0.0.0/0")}))
	sg.SetAttributeRaw("tags", tags(hclwrite.TokensForValue(cty.StringVal("MultiCloud-VM-SG")), nil))
	root.AppendNewline()

	kp := root.AppendNewBlock("resource", []string{"aws_key_pair", "vm_key"}).Body()
	kp.SetAttributeRaw("key_name", hclwrite.TokensForFunctionCall("format",
		hclwrite.TokensForValue(cty.StringVal("multicloud-key-%s")),
		expr("random_string.deployment_id.result")))
	kp.SetAttributeRaw("public_key", expr("tls_private_key.vm_key.public_key_openssh"))
	root.AppendNewline()

	key := root.AppendNewBlock("resource", []string{"tls_private_key", "vm_key"}).Body()
	key.SetAttributeValue("algorithm", cty.StringVal("RSA"))
	key.SetAttributeValue("rsa_bits", cty.NumberIntVal(4096))
	root.AppendNewline()

	rnd := root.AppendNewBlock("resource", []string{"random_string", "deployment_id"}).Body()
	rnd.SetAttributeValue("length", cty.NumberIntVal(8))
	rnd.SetAttributeValue("special", cty.False)
	rnd.SetAttributeValue("upper", cty.False)
	root.AppendNewline()

	vm := root.AppendNewBlock("resource", []string{"aws_instance", "vm"}).Body()
	vm.SetAttributeRaw("count", expr("var.vm_count"))
	vm.SetAttributeRaw("ami", expr("data.aws_ami.selected.id"))
	vm.SetAttributeRaw("instance_type", expr("var.instance_type"))
	vm.SetAttributeRaw("key_name", expr("aws_key_pair.vm_key.key_name"))
	vm.SetAttributeRaw("vpc_security_group_ids", hclwrite.TokensForTuple([]hclwrite.Tokens{
		expr("aws_security_group.vm_sg.id"),
	}))
	disk := vm.AppendNewBlock("root_block_device", nil).Body()
	disk.SetAttributeValue("volume_type", cty.StringVal("gp3"))
	disk.SetAttributeRaw("volume_size", expr("var.storage_size"))
	disk.SetAttributeValue("encrypted", cty.True)
	vm.SetAttributeRaw("user_data", hclwrite.TokensForFunctionCall("format",
		expr("local.user_data"), expr("count.index + 1")))
	vm.SetAttributeRaw("tags", tags(
		hclwrite.TokensForFunctionCall("format",
			hclwrite.TokensForValue(cty.StringVal("MultiCloud-VM-%d")), expr("count.index + 1")),
		[]hclwrite.ObjectAttrTokens{{
			Name:  hclwrite.TokensForIdentifier("DeploymentId"),
			Value: expr("random_string.deployment_id.result"),
		}}))
	root.AppendNewline()

	appendOutput(root, "instance_ids", "IDs of the EC2 instances", expr("aws_instance.vm[*].id"), false)
	appendOutput(root, "public_ips", "Public IP addresses of the instances", expr("aws_instance.vm[*].public_ip"), false)
	appendOutput(root, "private_ips", "Private IP addresses of the instances", expr("aws_instance.vm[*].private_ip"), false)
	appendOutput(root, "instance_dns", "Public DNS names of the instances", expr("aws_instance.vm[*].public_dns"), false)
	appendOutput(root, "private_key", "Private key for SSH access", expr("tls_private_key.vm_key.private_key_pem"), true)
	appendOutput(root, "deployment_summary", "Deployment summary", hclwrite.TokensForObject([]hclwrite.ObjectAttrTokens{
		{Name: hclwrite.TokensForIdentifier("deployment_id"), Value: expr("random_string.deployment_id.result")},
		{Name: hclwrite.TokensForIdentifier("instance_count"), Value: expr("var.vm_count")},
		{Name: hclwrite.TokensForIdentifier("instance_type"), Value: expr("var.instance_type")},
		{Name: hclwrite.TokensForIdentifier("region"), Value: expr("var.aws_region")},
		{Name: hclwrite.TokensForIdentifier("created_at"), Value: hclwrite.TokensForFunctionCall("timestamp")},
	}), false)

	return hclwrite.Format(f.Bytes())
}

func (awsRenderer) RenderVariables(cfg *deployment.Config) []byte {
	arch := cfg.Architecture
	creds := cfg.Credentials.For(deployment.ProviderAWS)

	f := hclwrite.NewEmptyFile()
	body := f.Body()
	body.SetAttributeValue("aws_access_key", cty.StringVal(creds[deployment.AWSAccessKey]))
	body.SetAttributeValue("aws_secret_key", cty.StringVal(creds[deployment.AWSSecretKey]))
	body.SetAttributeValue("aws_region", cty.StringVal(creds[deployment.AWSRegion]))
	body.SetAttributeValue("vm_count", cty.NumberIntVal(int64(*arch.VMCount)))
	body.SetAttributeValue("instance_type", cty.StringVal(*arch.InstanceType))
	body.SetAttributeValue("storage_size", cty.NumberIntVal(int64(*arch.Storage)))
	return hclwrite.Format(f.Bytes())
}

// expr emits a reference or arithmetic expression verbatim. Format re-lexes
// the file afterwards, so spacing is normalised there.
func expr(src string) hclwrite.Tokens {
	return hclwrite.Tokens{{Type: hclsyntax.TokenIdent, Bytes: []byte(src)}}
}

func providerSource(source, version string) cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		"source":  cty.StringVal(source),
		"version": cty.StringVal(version),
	})
}

func appendVariable(body *hclwrite.Body, name, description, typ string, def cty.Value, sensitive bool) {
	v := body.AppendNewBlock("variable", []string{name}).Body()
	v.SetAttributeValue("description", cty.StringVal(description))
	v.SetAttributeRaw("type", hclwrite.TokensForIdentifier(typ))
	if !def.IsNull() {
		v.SetAttributeValue("default", def)
	}
	if sensitive {
		v.SetAttributeValue("sensitive", cty.True)
	}
	body.AppendNewline()
}

func appendFilter(body *hclwrite.Body, name, value string) {
	filter := body.AppendNewBlock("filter", nil).Body()
	filter.SetAttributeValue("name", cty.StringVal(name))
	filter.SetAttributeValue("values", cty.ListVal([]cty.Value{cty.StringVal(value)}))
}

func appendOutput(body *hclwrite.Body, name, description string, value hclwrite.Tokens, sensitive bool) {
	out := body.AppendNewBlock("output", []string{name}).Body()
	out.SetAttributeValue("description", cty.StringVal(description))
	out.SetAttributeRaw("value", value)
	if sensitive {
		out.SetAttributeValue("sensitive", cty.True)
	}
	body.AppendNewline()
}

// tags builds a tag object with the Name tag first, the standard tags, then extra.
func tags(name hclwrite.Tokens, extra []hclwrite.ObjectAttrTokens) hclwrite.Tokens {
	attrs := []hclwrite.ObjectAttrTokens{{Name: hclwrite.TokensForIdentifier("Name"), Value: name}}
	for _, t := range standardTags {
		attrs = append(attrs, hclwrite.ObjectAttrTokens{
			Name:  hclwrite.TokensForIdentifier(t.key),
			Value: hclwrite.TokensForValue(cty.StringVal(t.value)),
		})
	}
	return hclwrite.TokensForObject(append(attrs, extra...))
}

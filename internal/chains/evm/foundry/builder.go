// Package foundry provides the Foundry artifact loader.
package foundry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pendergraft/deployrecon/internal/chains"
)

// Builder implements chains.Builder for Foundry projects
type Builder struct{}

// New creates a new Foundry builder
func New() *Builder {
	return &Builder{}
}

// Name returns the builder identifier
func (b *Builder) Name() string {
	return "foundry"
}

// DisplayName returns a human-readable name
func (b *Builder) DisplayName() string {
	return "Foundry"
}

// ConfigFile returns the config file name
func (b *Builder) ConfigFile() string {
	return "foundry.toml"
}

// Detect checks if a directory is a Foundry project
func (b *Builder) Detect(dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, b.ConfigFile()))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func outDir(dir string) (string, error) {
	out := filepath.Join(dir, "out")
	if _, err := os.Stat(out); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: out directory not found - run 'forge build' first", chains.ErrArtifactNotFound)
	}
	return out, nil
}

// Discover finds the project's contract artifacts (sources under src/).
func (b *Builder) Discover(dir string, opts chains.DiscoverOptions) ([]chains.ArtifactID, error) {
	out, err := outDir(dir)
	if err != nil {
		return nil, err
	}

	var ids []chains.ArtifactID
	seen := make(map[chains.ArtifactID]bool)

	err = filepath.WalkDir(out, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		// out/{Source}.sol/{Contract}.json
		if !strings.HasSuffix(d.Name(), ".json") || !strings.HasSuffix(filepath.Dir(path), ".sol") {
			return nil
		}

		contractName := strings.TrimSuffix(d.Name(), ".json")
		if !included(contractName, opts) {
			return nil
		}

		raw, err := readArtifact(path)
		if err != nil {
			return nil // skip artifacts we can't read
		}
		if raw.Bytecode.Object == "" || raw.Bytecode.Object == "0x" {
			return nil // interfaces
		}
		md, err := raw.metadata()
		if err != nil {
			return nil
		}
		sourcePath := md.Settings.CompilationTarget.sourcePath()
		if !strings.HasPrefix(sourcePath, "src/") {
			return nil
		}

		id := chains.ArtifactID{SourcePath: sourcePath, ContractName: contractName}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func included(contractName string, opts chains.DiscoverOptions) bool {
	if len(opts.Contracts) > 0 {
		found := false
		for _, c := range opts.Contracts {
			if c == contractName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, pattern := range opts.Exclude {
		if strings.HasPrefix(contractName, pattern) || strings.HasSuffix(contractName, pattern) {
			return false
		}
		if matched, _ := filepath.Match(pattern, contractName); matched {
			return false
		}
	}
	return true
}

// artifactPath locates out/{Source}.sol/{Contract}.json for id. A bare
// contract name must resolve to exactly one artifact.
func artifactPath(out string, id chains.ArtifactID) (string, error) {
	if id.SourcePath != "" {
		path := filepath.Join(out, filepath.Base(id.SourcePath), id.ContractName+".json")
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", chains.ErrArtifactNotFound, id)
		}
		return path, nil
	}

	matches, err := filepath.Glob(filepath.Join(out, "*.sol", id.ContractName+".json"))
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", chains.ErrArtifactNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("contract name %s is ambiguous (%d artifacts); use path:Name", id.ContractName, len(matches))
	}
}

// Load reads the artifact for id from the out directory.
func (b *Builder) Load(dir string, id chains.ArtifactID) (*chains.CompiledArtifact, error) {
	out, err := outDir(dir)
	if err != nil {
		return nil, err
	}
	path, err := artifactPath(out, id)
	if err != nil {
		return nil, err
	}
	raw, err := readArtifact(path)
	if err != nil {
		return nil, err
	}
	return raw.toCompiled(id.ContractName)
}

// Parse parses a single Foundry artifact file.
func (b *Builder) Parse(path string) (*chains.CompiledArtifact, error) {
	raw, err := readArtifact(path)
	if err != nil {
		return nil, err
	}
	return raw.toCompiled(strings.TrimSuffix(filepath.Base(path), ".json"))
}

func readArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", chains.ErrArtifactNotFound, path)
		}
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	var raw Artifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing artifact JSON: %w", err)
	}
	return &raw, nil
}

func (a *Artifact) metadata() (*Metadata, error) {
	if a.RawMetadata == "" {
		return nil, fmt.Errorf("artifact has no rawMetadata")
	}
	var md Metadata
	if err := json.Unmarshal([]byte(a.RawMetadata), &md); err != nil {
		return nil, fmt.Errorf("parsing rawMetadata: %w", err)
	}
	return &md, nil
}

func (a *Artifact) toCompiled(contractName string) (*chains.CompiledArtifact, error) {
	// Skip if no bytecode (interfaces, abstract contracts)
	if a.Bytecode.Object == "" || a.Bytecode.Object == "0x" {
		return nil, fmt.Errorf("contract %s has no bytecode (likely an interface)", contractName)
	}

	creation, _, err := chains.DecodeBytecode(a.Bytecode.Object)
	if err != nil {
		return nil, fmt.Errorf("creation bytecode: %w", err)
	}
	runtime, _, err := chains.DecodeBytecode(a.DeployedBytecode.Object)
	if err != nil {
		return nil, fmt.Errorf("runtime bytecode: %w", err)
	}

	// Metadata is optional, artifacts built with --no-metadata lack it
	md := &Metadata{}
	if parsed, err := a.metadata(); err == nil {
		md = parsed
	}

	compiler := chains.EVMCompiler{
		Version:    md.Compiler.Version,
		EVMVersion: md.Settings.EVMVersion,
		ViaIR:      md.Settings.ViaIR,
		Optimizer: chains.OptimizerConfig{
			Enabled: md.Settings.Optimizer.Enabled,
			Runs:    md.Settings.Optimizer.Runs,
		},
	}
	if md.Settings.Metadata != nil {
		compiler.BytecodeHash = md.Settings.Metadata.BytecodeHash
	}

	return &chains.CompiledArtifact{
		ContractName:     contractName,
		SourcePath:       md.Settings.CompilationTarget.sourcePath(),
		License:          md.Sources.FirstLicense(),
		ABI:              a.ABI,
		CreationBytecode: creation,
		RuntimeBytecode:  runtime,
		Compiler:         compiler,
		ImmutableRefs:    flattenImmutables(a.DeployedBytecode.ImmutableReferences),
		LinkRefs:         flattenLinks(a.DeployedBytecode.LinkReferences),
		Builder:          "foundry",
	}, nil
}

func flattenImmutables(refs map[string][]Link) []chains.CodeRange {
	var out []chains.CodeRange
	for _, links := range refs {
		for _, l := range links {
			out = append(out, chains.CodeRange(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func flattenLinks(refs map[string]map[string][]Link) map[string][]chains.CodeRange {
	if len(refs) == 0 {
		return nil
	}
	out := make(map[string][]chains.CodeRange)
	for file, libs := range refs {
		for lib, links := range libs {
			for _, l := range links {
				out[file+":"+lib] = append(out[file+":"+lib], chains.CodeRange(l))
			}
		}
	}
	return out
}

// StandardJSONInput returns verification input for id. The per-contract
// input rebuilt from the artifact's metadata reproduces the embedded
// metadata hash; the project-wide build-info is used when sources are not
// on disk.
func (b *Builder) StandardJSONInput(dir string, id chains.ArtifactID) (json.RawMessage, error) {
	out, err := outDir(dir)
	if err != nil {
		return nil, err
	}
	path, err := artifactPath(out, id)
	if err != nil {
		return nil, err
	}
	input, perContractErr := b.GeneratePerContractStandardJSON(dir, path)
	if perContractErr == nil {
		return input, nil
	}
	vi, err := b.BuildInfoInput(dir, id)
	if err != nil {
		return nil, fmt.Errorf("%w (per-contract input: %v)", err, perContractErr)
	}
	return vi.StandardJSON, nil
}

// VerificationInput is a standard JSON input plus the exact compiler build.
type VerificationInput struct {
	StandardJSON    json.RawMessage
	SolcLongVersion string
}

// buildInfoOutputContracts represents output.contracts from Solidity compiler output
type buildInfoOutputContracts map[string]map[string]json.RawMessage

// BuildInfoInput extracts Standard JSON Input and full solc version from
// the build-info file whose output contains id.
func (b *Builder) BuildInfoInput(dir string, id chains.ArtifactID) (*VerificationInput, error) {
	buildInfoDir := filepath.Join(dir, "out", "build-info")

	entries, err := os.ReadDir(buildInfoDir)
	if err != nil {
		return nil, fmt.Errorf("reading build-info directory (run 'forge build --build-info'): %w", err)
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(buildInfoDir, entry.Name()))
		if err != nil {
			continue
		}
		var buildInfo BuildInfo
		if err := json.Unmarshal(data, &buildInfo); err != nil {
			continue
		}

		var output struct {
			Contracts buildInfoOutputContracts `json:"contracts"`
		}
		if err := json.Unmarshal(buildInfo.Output, &output); err != nil {
			continue
		}
		if !containsContract(output.Contracts, id) {
			continue
		}

		stdJSON, err := stripFoundryStandardJSONKeys(buildInfo.Input)
		if err != nil {
			continue
		}
		return &VerificationInput{
			StandardJSON:    stdJSON,
			SolcLongVersion: buildInfo.SolcLongVersion,
		}, nil
	}
	return nil, fmt.Errorf("build-info not found for contract %s", id)
}

func containsContract(contracts buildInfoOutputContracts, id chains.ArtifactID) bool {
	if id.SourcePath != "" {
		_, ok := contracts[id.SourcePath][id.ContractName]
		return ok
	}
	for _, byName := range contracts {
		if _, ok := byName[id.ContractName]; ok {
			return true
		}
	}
	return false
}

// foundryStandardJSONKeysToStrip are top-level keys Foundry adds that the Solidity compiler rejects.
// The standard JSON input only allows: language, sources, settings.
var foundryStandardJSONKeysToStrip = []string{"allowPaths", "basePath", "includePaths", "version"}

func stripFoundryStandardJSONKeys(input json.RawMessage) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil {
		return nil, err
	}
	for _, key := range foundryStandardJSONKeysToStrip {
		delete(m, key)
	}
	return json.Marshal(m)
}

// standardJSONInput is the per-contract verification input
type standardJSONInput struct {
	Language string                   `json:"language"`
	Sources  map[string]sourceContent `json:"sources"`
	Settings standardJSONSettings     `json:"settings"`
}

type sourceContent struct {
	Content string `json:"content"`
}

type standardJSONSettings struct {
	Optimizer       optimizerSettings              `json:"optimizer"`
	EVMVersion      string                         `json:"evmVersion,omitempty"`
	ViaIR           bool                           `json:"viaIR,omitempty"`
	Libraries       map[string]map[string]string   `json:"libraries,omitempty"`
	Remappings      []string                       `json:"remappings,omitempty"`
	Metadata        standardJSONMetadataConfig     `json:"metadata,omitempty"`
	OutputSelection map[string]map[string][]string `json:"outputSelection"`
}

type optimizerSettings struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}

type standardJSONMetadataConfig struct {
	BytecodeHash      string `json:"bytecodeHash,omitempty"`
	UseLiteralContent bool   `json:"useLiteralContent,omitempty"`
	AppendCBOR        *bool  `json:"appendCBOR,omitempty"`
}

func outputSelectionForVerification() map[string]map[string][]string {
	return map[string]map[string][]string{
		"*": {"*": {"abi", "evm.bytecode", "evm.deployedBytecode", "metadata"}},
	}
}

// GeneratePerContractStandardJSON builds a minimal standard JSON input from the artifact's
// rawMetadata, containing only the contract's actual dependencies.
func (b *Builder) GeneratePerContractStandardJSON(dir, artifactPath string) ([]byte, error) {
	raw, err := readArtifact(artifactPath)
	if err != nil {
		return nil, err
	}
	metadata, err := raw.metadata()
	if err != nil {
		return nil, err
	}
	if len(metadata.Sources) == 0 {
		return nil, fmt.Errorf("metadata has no sources")
	}

	sources := make(map[string]sourceContent)
	for srcPath := range metadata.Sources {
		content, err := os.ReadFile(filepath.Join(dir, srcPath))
		if err != nil {
			return nil, fmt.Errorf("reading source %s: %w", srcPath, err)
		}
		sources[srcPath] = sourceContent{Content: string(content)}
	}

	lang := metadata.Language
	if lang == "" {
		lang = "Solidity"
	}

	optSettings := optimizerSettings(metadata.Settings.Optimizer)
	// runs=0 is correct when the optimizer is disabled
	if optSettings.Enabled && optSettings.Runs == 0 {
		optSettings.Runs = 200
	}

	metaOut := standardJSONMetadataConfig{BytecodeHash: "ipfs"}
	if m := metadata.Settings.Metadata; m != nil {
		if m.BytecodeHash != "" {
			metaOut.BytecodeHash = m.BytecodeHash
		}
		metaOut.UseLiteralContent = m.UseLiteralContent
		metaOut.AppendCBOR = m.AppendCBOR
	}

	input := standardJSONInput{
		Language: lang,
		Sources:  sources,
		Settings: standardJSONSettings{
			Optimizer:       optSettings,
			EVMVersion:      metadata.Settings.EVMVersion,
			ViaIR:           metadata.Settings.ViaIR,
			Libraries:       metadata.Settings.Libraries,
			Remappings:      metadata.Settings.Remappings,
			Metadata:        metaOut,
			OutputSelection: outputSelectionForVerification(),
		},
	}
	return json.MarshalIndent(input, "", "  ")
}

// Artifact is the structure of a Foundry artifact JSON file
type Artifact struct {
	ABI              json.RawMessage `json:"abi"`
	Bytecode         BytecodeObject  `json:"bytecode"`
	DeployedBytecode BytecodeObject  `json:"deployedBytecode"`
	RawMetadata      string          `json:"rawMetadata"`
}

// BytecodeObject represents bytecode in a Foundry artifact
type BytecodeObject struct {
	Object              string                       `json:"object"`
	LinkReferences      map[string]map[string][]Link `json:"linkReferences"`
	ImmutableReferences map[string][]Link            `json:"immutableReferences"`
}

// Link is a byte range inside bytecode
type Link struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// Metadata is the parsed rawMetadata field
type Metadata struct {
	Compiler struct {
		Version string `json:"version"`
	} `json:"compiler"`
	Language string       `json:"language"`
	Settings SettingsMeta `json:"settings"`
	Sources  SourcesMeta  `json:"sources"`
}

// MetadataSettings contains metadata options for standard JSON
type MetadataSettings struct {
	BytecodeHash      string `json:"bytecodeHash,omitempty"` // default "ipfs"
	UseLiteralContent bool   `json:"useLiteralContent,omitempty"`
	AppendCBOR        *bool  `json:"appendCBOR,omitempty"`
}

// CompilationTarget maps the compiled source path to the contract name.
type CompilationTarget map[string]string

func (t CompilationTarget) sourcePath() string {
	for k := range t {
		return k
	}
	return ""
}

// SettingsMeta contains compiler settings
type SettingsMeta struct {
	CompilationTarget CompilationTarget            `json:"compilationTarget"`
	EVMVersion        string                       `json:"evmVersion"`
	Libraries         map[string]map[string]string `json:"libraries"` // source path -> library name -> address
	Metadata          *MetadataSettings            `json:"metadata,omitempty"`
	Optimizer         OptimizerMeta                `json:"optimizer"`
	Remappings        []string                     `json:"remappings"`
	ViaIR             bool                         `json:"viaIR"`
}

// OptimizerMeta contains optimizer settings
type OptimizerMeta struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}

// SourcesMeta contains source file information
type SourcesMeta map[string]SourceMeta

// SourceMeta contains individual source file info
type SourceMeta struct {
	Keccak256 string `json:"keccak256"`
	License   string `json:"license"`
}

// FirstLicense returns the license of the first source, in path order.
func (s SourcesMeta) FirstLicense() string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if s[p].License != "" {
			return s[p].License
		}
	}
	return ""
}

// BuildInfo represents a Foundry build-info file
type BuildInfo struct {
	ID              string          `json:"id"`
	SolcVersion     string          `json:"solcVersion"`     // "0.8.28"
	SolcLongVersion string          `json:"solcLongVersion"` // "0.8.28+commit.7893614a"
	Input           json.RawMessage `json:"input"`
	Output          json.RawMessage `json:"output"`
}

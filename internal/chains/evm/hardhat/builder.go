// Package hardhat provides the Hardhat artifact loader.
package hardhat

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

var configFiles = []string{"hardhat.config.ts", "hardhat.config.js", "hardhat.config.cjs", "hardhat.config.mjs"}

// Builder implements chains.Builder for Hardhat projects
type Builder struct{}

// New creates a new Hardhat builder
func New() *Builder {
	return &Builder{}
}

func (b *Builder) Name() string        { return "hardhat" }
func (b *Builder) DisplayName() string { return "Hardhat" }
func (b *Builder) ConfigFile() string  { return "hardhat.config.js" }

// Detect checks for any hardhat config file variant
func (b *Builder) Detect(dir string) (bool, error) {
	for _, name := range configFiles {
		_, err := os.Stat(filepath.Join(dir, name))
		if err == nil {
			return true, nil
		}
		if !os.IsNotExist(err) {
			return false, err
		}
	}
	return false, nil
}

func artifactsDir(dir string) (string, error) {
	out := filepath.Join(dir, "artifacts")
	if _, err := os.Stat(out); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: artifacts directory not found - run 'npx hardhat compile' first", chains.ErrArtifactNotFound)
	}
	return out, nil
}

// Discover lists artifacts compiled from contracts/.
func (b *Builder) Discover(dir string, opts chains.DiscoverOptions) ([]chains.ArtifactID, error) {
	root, err := artifactsDir(dir)
	if err != nil {
		return nil, err
	}

	var ids []chains.ArtifactID
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".json") || strings.HasSuffix(d.Name(), ".dbg.json") {
			return nil
		}
		art, err := readArtifact(path)
		if err != nil || art.Format == "" {
			return nil
		}
		if art.Bytecode == "" || art.Bytecode == "0x" {
			return nil
		}
		if !strings.HasPrefix(art.SourceName, "contracts/") || excluded(art.ContractName, opts) {
			return nil
		}
		ids = append(ids, chains.ArtifactID{SourcePath: art.SourceName, ContractName: art.ContractName})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func excluded(name string, opts chains.DiscoverOptions) bool {
	if len(opts.Contracts) > 0 {
		found := false
		for _, c := range opts.Contracts {
			found = found || c == name
		}
		if !found {
			return true
		}
	}
	for _, pattern := range opts.Exclude {
		if strings.HasPrefix(name, pattern) || strings.HasSuffix(name, pattern) {
			return true
		}
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

// artifactPath resolves artifacts/{sourceName}/{Contract}.json.
func artifactPath(root string, id chains.ArtifactID) (string, error) {
	if id.SourcePath != "" {
		path := filepath.Join(root, filepath.FromSlash(id.SourcePath), id.ContractName+".json")
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", chains.ErrArtifactNotFound, id)
		}
		return path, nil
	}

	var matches []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && d.Name() == id.ContractName+".json" {
			matches = append(matches, path)
		}
		return nil
	})
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", chains.ErrArtifactNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("contract name %s is ambiguous (%d artifacts); use path:Name", id.ContractName, len(matches))
	}
}

// Load reads the artifact and the compiler settings from its build-info.
func (b *Builder) Load(dir string, id chains.ArtifactID) (*chains.CompiledArtifact, error) {
	root, err := artifactsDir(dir)
	if err != nil {
		return nil, err
	}
	path, err := artifactPath(root, id)
	if err != nil {
		return nil, err
	}
	art, err := readArtifact(path)
	if err != nil {
		return nil, err
	}
	if art.Bytecode == "" || art.Bytecode == "0x" {
		return nil, fmt.Errorf("contract %s has no bytecode (likely an interface)", art.ContractName)
	}

	creation, _, err := chains.DecodeBytecode(art.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("creation bytecode: %w", err)
	}
	runtime, _, err := chains.DecodeBytecode(art.DeployedBytecode)
	if err != nil {
		return nil, fmt.Errorf("runtime bytecode: %w", err)
	}

	compiled := &chains.CompiledArtifact{
		ContractName:     art.ContractName,
		SourcePath:       art.SourceName,
		ABI:              art.ABI,
		CreationBytecode: creation,
		RuntimeBytecode:  runtime,
		LinkRefs:         flattenLinks(art.DeployedLinkReferences),
		Builder:          "hardhat",
	}

	// build-info is optional; without it compiler settings stay empty
	info, err := readBuildInfo(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if compiled.Compiler, err = info.compiler(); err != nil {
			return nil, err
		}
		compiled.ImmutableRefs = info.immutables(art.SourceName, art.ContractName)
	}
	return compiled, nil
}

// StandardJSONInput returns the compiler input recorded in build-info.
func (b *Builder) StandardJSONInput(dir string, id chains.ArtifactID) (json.RawMessage, error) {
	root, err := artifactsDir(dir)
	if err != nil {
		return nil, err
	}
	path, err := artifactPath(root, id)
	if err != nil {
		return nil, err
	}
	info, err := readBuildInfo(path)
	if err != nil {
		return nil, err
	}
	return info.Input, nil
}

func readArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", chains.ErrArtifactNotFound, path)
		}
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("parsing artifact JSON: %w", err)
	}
	return &art, nil
}

// readBuildInfo follows {Contract}.dbg.json to the build-info file.
func readBuildInfo(artifactPath string) (*BuildInfo, error) {
	dbgPath := strings.TrimSuffix(artifactPath, ".json") + ".dbg.json"
	data, err := os.ReadFile(dbgPath)
	if err != nil {
		return nil, fmt.Errorf("reading debug file: %w", err)
	}
	var dbg struct {
		BuildInfo string `json:"buildInfo"`
	}
	if err := json.Unmarshal(data, &dbg); err != nil {
		return nil, fmt.Errorf("parsing debug file: %w", err)
	}
	if dbg.BuildInfo == "" {
		return nil, fmt.Errorf("debug file %s has no buildInfo", dbgPath)
	}

	data, err = os.ReadFile(filepath.Join(filepath.Dir(dbgPath), filepath.FromSlash(dbg.BuildInfo)))
	if err != nil {
		return nil, fmt.Errorf("reading build-info: %w", err)
	}
	var info BuildInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing build-info: %w", err)
	}
	return &info, nil
}

func flattenLinks(refs map[string]map[string][]chains.CodeRange) map[string][]chains.CodeRange {
	if len(refs) == 0 {
		return nil
	}
	out := make(map[string][]chains.CodeRange)
	for file, libs := range refs {
		for lib, ranges := range libs {
			out[file+":"+lib] = append(out[file+":"+lib], ranges...)
		}
	}
	return out
}

// Artifact is a Hardhat hh-sol-artifact-1 file.
type Artifact struct {
	Format                 string                                   `json:"_format"`
	ContractName           string                                   `json:"contractName"`
	SourceName             string                                   `json:"sourceName"`
	ABI                    json.RawMessage                          `json:"abi"`
	Bytecode               string                                   `json:"bytecode"`
	DeployedBytecode       string                                   `json:"deployedBytecode"`
	DeployedLinkReferences map[string]map[string][]chains.CodeRange `json:"deployedLinkReferences"`
}

// BuildInfo is a Hardhat hh-sol-build-info-1 file.
type BuildInfo struct {
	SolcLongVersion string          `json:"solcLongVersion"`
	Input           json.RawMessage `json:"input"`
	Output          json.RawMessage `json:"output"`
}

type inputSettings struct {
	Settings struct {
		Optimizer struct {
			Enabled bool `json:"enabled"`
			Runs    int  `json:"runs"`
		} `json:"optimizer"`
		EVMVersion string `json:"evmVersion"`
		ViaIR      bool   `json:"viaIR"`
		Metadata   struct {
			BytecodeHash string `json:"bytecodeHash"`
		} `json:"metadata"`
	} `json:"settings"`
}

func (i *BuildInfo) compiler() (chains.EVMCompiler, error) {
	var in inputSettings
	if err := json.Unmarshal(i.Input, &in); err != nil {
		return chains.EVMCompiler{}, fmt.Errorf("parsing build-info input settings: %w", err)
	}
	s := in.Settings
	return chains.EVMCompiler{
		Version:      i.SolcLongVersion,
		Optimizer:    chains.OptimizerConfig{Enabled: s.Optimizer.Enabled, Runs: s.Optimizer.Runs},
		EVMVersion:   s.EVMVersion,
		ViaIR:        s.ViaIR,
		BytecodeHash: s.Metadata.BytecodeHash,
	}, nil
}

func (i *BuildInfo) immutables(sourceName, contractName string) []chains.CodeRange {
	var out struct {
		Contracts map[string]map[string]struct {
			EVM struct {
				DeployedBytecode struct {
					ImmutableReferences map[string][]chains.CodeRange `json:"immutableReferences"`
				} `json:"deployedBytecode"`
			} `json:"evm"`
		} `json:"contracts"`
	}
	if err := json.Unmarshal(i.Output, &out); err != nil {
		return nil
	}
	var ranges []chains.CodeRange
	for _, refs := range out.Contracts[sourceName][contractName].EVM.DeployedBytecode.ImmutableReferences {
		ranges = append(ranges, refs...)
	}
	sort.Slice(ranges, func(a, b int) bool { return ranges[a].Start < ranges[b].Start })
	return ranges
}

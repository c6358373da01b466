package main

import (
	"fmt"
	"os"

	"path/filepath"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/dsoprea/go-fat"
)

type rootParameters struct {
	Filepath        string `short:"f" long:"filepath" description:"File-path of FAT12/FAT16 image" required:"true"`
	FilenameFilter  string `short:"p" long:"pattern" description:"Filename filter"`
	ShowDetail      bool   `short:"d" long:"detail" description:"Show additional entry detail"`
	ShowDotEntries  bool   `short:"a" long:"all" description:"Include the '.' and '..' entries"`
	StrictChecksums bool   `short:"s" long:"strict-checksums" description:"Ignore long names whose checksum does not match"`
	AsYaml          bool   `short:"y" long:"yaml" description:"Print the listing as YAML"`
}

var (
	rootArguments = new(rootParameters)
)

type yamlEntry struct {
	Path         string   `yaml:"path"`
	Name         string   `yaml:"name"`
	IsDirectory  bool     `yaml:"is_directory"`
	Size         uint32   `yaml:"size"`
	Modified     string   `yaml:"modified"`
	FirstCluster uint16   `yaml:"first_cluster"`
	Clusters     []uint32 `yaml:"clusters,omitempty"`
}

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	source, err := fat.NewFileSource(afero.NewOsFs(), rootArguments.Filepath)
	log.PanicIf(err)

	defer source.Close()

	fr := fat.NewFatReader(source)

	err = fr.Parse()
	log.PanicIf(err)

	options := fat.TreeOptions{
		StrictChecksums: rootArguments.StrictChecksums,
	}

	tree := fat.NewTreeWithOptions(fr, options)

	entries, err := tree.List()
	log.PanicIf(err)

	yamlEntries := make([]yamlEntry, 0)

	for _, le := range entries {
		if rootArguments.ShowDotEntries == false && (le.ShortEntry.IsDot() == true || le.ShortEntry.IsDotDot() == true) {
			continue
		}

		if rootArguments.FilenameFilter != "" {
			isMatched, err := filepath.Match(rootArguments.FilenameFilter, le.Name)
			log.PanicIf(err)

			if isMatched != true {
				continue
			}
		}

		var chain []uint32
		if le.FirstCluster >= 2 && (rootArguments.ShowDetail == true || rootArguments.AsYaml == true) {
			chain, err = fr.ClusterChain(uint32(le.FirstCluster))
			log.PanicIf(err)
		}

		if rootArguments.AsYaml == true {
			ye := yamlEntry{
				Path:         le.FullPath(),
				Name:         le.Name,
				IsDirectory:  le.IsDirectory,
				Size:         le.Size,
				Modified:     fmt.Sprintf("%s %s", le.ModifiedDate, le.ModifiedTime),
				FirstCluster: le.FirstCluster,
				Clusters:     chain,
			}

			yamlEntries = append(yamlEntries, ye)
		} else if rootArguments.ShowDetail == true {
			fmt.Printf("## %s\n", le.FullPath())
			fmt.Printf("\n")

			le.ShortEntry.Dump()

			fmt.Printf("Cluster(s): %v\n", chain)
			fmt.Printf("\n")
		} else {
			directoryPhrase := "     "
			if le.IsDirectory == true {
				directoryPhrase = "<DIR>"
			}

			fmt.Printf("%s %s %s %15s %s\n", le.ModifiedDate, le.ModifiedTime, directoryPhrase, humanize.Comma(int64(le.Size)), le.FullPath())
		}
	}

	if rootArguments.AsYaml == true {
		encoded, err := yaml.Marshal(yamlEntries)
		log.PanicIf(err)

		fmt.Print(string(encoded))
	}
}

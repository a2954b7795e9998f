package config

import (
	"github.com/any-hub/any-repo/internal/repository"
	"github.com/any-hub/any-repo/internal/snapshot"
)

// Descriptors 将配置段转换为仓库描述，远程仓库的 TTL 已按全局值回退。
func (c *Config) Descriptors() ([]repository.Descriptor, error) {
	descs := make([]repository.Descriptor, 0, c.RepositoryCount())
	for _, l := range c.Locals {
		behavior, err := snapshot.ParseBehavior(l.SnapshotBehavior)
		if err != nil {
			return nil, newFieldError(repoField("Local", l.Key, "SnapshotBehavior"), err.Error())
		}
		descs = append(descs, &repository.Local{
			Key:              l.Key,
			Includes:         l.Includes,
			Excludes:         l.Excludes,
			Layout:           l.Layout,
			SnapshotBehavior: behavior,
			ChecksumPolicy:   l.ChecksumPolicy,
		})
	}
	for _, r := range c.Remotes {
		retrieval, failed, missed := c.EffectiveTTLs(r)
		descs = append(descs, &repository.Remote{
			Key:            r.Key,
			URL:            r.URL,
			Includes:       r.Includes,
			Excludes:       r.Excludes,
			Layout:         r.Layout,
			RetrievalTTL:   retrieval,
			FailedTTL:      failed,
			MissedTTL:      missed,
			HardFail:       r.HardFail,
			Offline:        r.Offline,
			StoreLocally:   r.StoresLocally(),
			CacheRepo:      r.CacheRepo,
			ChecksumPolicy: r.ChecksumPolicy,
			Username:       r.Username,
			Password:       r.Password,
			Proxy:          r.Proxy,
		})
	}
	for _, v := range c.Virtuals {
		descs = append(descs, &repository.Virtual{
			Key:                    v.Key,
			Members:                v.Members,
			CanFetchRemoteOnDeploy: v.FetchesRemote(),
			Includes:               v.Includes,
			Excludes:               v.Excludes,
		})
	}
	return descs, nil
}

// Registry 构造只读的仓库注册表。
func (c *Config) Registry() (*repository.Registry, error) {
	descs, err := c.Descriptors()
	if err != nil {
		return nil, err
	}
	return repository.NewRegistry(descs...)
}

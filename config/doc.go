// Package config 提供 AgentMem 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// 最后执行调用方注册的验证器。
package config

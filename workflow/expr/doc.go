// Package expr 实现 Code 节点使用的受限 JavaScript 风格求值器。
// 程序只能访问传入的变量与内置对象（Math、JSON、Object、Array 等），
// 无法进行任何宿主 I/O；执行受步数上限与 context 取消约束。
package expr

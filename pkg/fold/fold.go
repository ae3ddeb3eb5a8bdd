// fold包实现了无分支的"首个错误优先"聚合器
// 一连串可能失败的远程调用全部执行完毕后，只有程序顺序上第一个失败会被上报，
// 之后的失败被视为它的连锁反应
package fold

import "math/bits"

// Fold 聚合状态，零值即为干净的(0, "")
// 每个可能失败的调用序列（例如一次Open）应使用一个新的Fold
type Fold struct {
	code int32
	msg  string
}

// Record 将候选的(code, msg)与当前状态合并
// 一旦锁存了非零错误码，后续记录全部无效；code为0表示成功
func (f *Fold) Record(code int32, msg string) {
	keep := Mask(f.code)
	f.code = f.code&keep | code&^keep

	take := ^keep & Mask(code)
	msgs := [2]string{f.msg, msg}
	f.msg = msgs[take&1]
}

// Code 返回锁存的错误码，0表示全部成功
func (f *Fold) Code() int32 { return f.code }

// Message 返回与错误码配对的描述
func (f *Fold) Message() string { return f.msg }

// OK 是否尚未记录任何失败
func (f *Fold) OK() bool { return f.code == 0 }

// Mask 非零值折叠为-1，零保持为0
func Mask(v int32) int32 {
	return (v | -v) >> 31
}

// Neg 负值返回-1，否则返回0
// 用于按"负数表示失败"的调用约定检查句柄和状态字
func Neg(v int32) int32 {
	return v >> 31
}

// Zero 零值返回-1，否则返回0
func Zero(v int32) int32 {
	return ^Mask(v)
}

// TopBit 地址最高位置位时返回-1，否则返回0
func TopBit(addr uintptr) int32 {
	return -int32(addr >> (bits.UintSize - 1))
}
